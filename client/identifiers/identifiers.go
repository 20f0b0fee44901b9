package identifiers

// DeviceID is the transport-specific address of a remote peripheral, for
// example a Bluetooth MAC address or a BlueZ object path.
type DeviceID string

// CharacteristicID is the UUID of a GATT characteristic.
type CharacteristicID string

// OperationID uniquely identifies a single submitted operation. Transport
// drivers echo it back in result events so late or duplicate callbacks can
// be matched against the in-flight slot.
type OperationID string

func (d DeviceID) String() string {
	return string(d)
}

func (c CharacteristicID) String() string {
	return string(c)
}

func (o OperationID) String() string {
	return string(o)
}
