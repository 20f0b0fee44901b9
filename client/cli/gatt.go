package cli

import (
	"context"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/bleq/bleq/client"
	"github.com/bleq/bleq/client/command"
	"github.com/bleq/bleq/client/identifiers"
	"github.com/bleq/bleq/client/logger"
	"github.com/bleq/bleq/client/transport"
	"github.com/bleq/bleq/client/transport/bluez"
	"github.com/bleq/bleq/client/transport/wsbridge"
	"github.com/juju/errors"
	"github.com/spf13/pflag"
)

// connArgs are the flags shared by every command that talks to a device.
type connArgs struct {
	config      string
	device      string
	url         string
	adapter     string
	metricsAddr string
}

func registerConnFlags(flags *pflag.FlagSet, args *connArgs) {
	flags.StringVarP(&args.config, "config", "c", "", "config file to use")
	flags.StringVarP(&args.device, "device", "d", "", "device MAC address")
	flags.StringVar(&args.url, "url", "", "websocket gateway url (ws transport)")
	flags.StringVar(&args.adapter, "adapter", "", "local controller (bluez transport)")
	flags.StringVar(&args.metricsAddr, "metrics-addr", "", "when set, will serve prometheus metrics (example: 127.0.0.1:9090)")
}

// session is a connected device session built from config and flags.
type session struct {
	log  logger.Logger
	conn *client.Conn
	diag *client.DiagServer
}

func dial(ctx context.Context, log logger.Logger, args connArgs) (*session, error) {
	configFiles := []string{}
	if args.config != "" {
		configFiles = append(configFiles, args.config)
	}

	config, err := client.ReadConfig(configFiles)
	if err != nil {
		return nil, errors.Annotate(err, "read config")
	}

	if args.device != "" {
		config.Device = args.device
	}

	if args.url != "" {
		config.Transport.WS.URL = args.url
	}

	if args.adapter != "" {
		config.Transport.BlueZ.Adapter = args.adapter
	}

	if args.metricsAddr != "" {
		config.Metrics.BindAddr = args.metricsAddr
	}

	if config.Device == "" {
		return nil, errors.New("no device configured, use --device or BLEQ_DEVICE")
	}

	var tr transport.Transport

	switch config.Transport.Type {
	case client.TransportTypeBlueZ:
		tr, err = bluez.New(bluez.Params{
			Log:     log,
			Adapter: config.Transport.BlueZ.Adapter,
		})
	default:
		tr, err = wsbridge.New(ctx, wsbridge.Params{
			URL: config.Transport.WS.URL,
			Log: log,
		})
	}

	if err != nil {
		return nil, errors.Annotatef(err, "create transport: %s", config.Transport.Type)
	}

	s := &session{
		log: log,
		conn: client.New(client.ConnParams{
			Log:       log,
			Transport: tr,
			Config:    config,
			Device:    identifiers.DeviceID(config.Device),
		}),
	}

	if addr := config.Metrics.BindAddr; addr != "" {
		s.diag = client.NewDiagServer(log, addr)

		go func() {
			if err := s.diag.Start(); err != nil {
				log.Error("Diagnostics server failed", err, nil)
			}
		}()
	}

	if _, err := s.conn.Connect().Wait(ctx); err != nil {
		s.close()

		return nil, errors.Annotate(err, "connect")
	}

	return s, nil
}

// close disconnects politely, then tears everything down.
func (s *session) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if _, err := s.conn.Disconnect().Wait(ctx); err != nil {
		s.log.Warn("Disconnect failed", logger.Ctx{"error": err})
	}

	if err := s.conn.Close(); err != nil {
		s.log.Warn("Close failed", logger.Ctx{"error": err})
	}

	if s.diag != nil {
		if err := s.diag.Close(); err != nil {
			s.log.Warn("Diagnostics server close failed", logger.Ctx{"error": err})
		}
	}
}

func characteristicArg(args []string) (identifiers.CharacteristicID, error) {
	if len(args) < 1 {
		return "", errors.New("characteristic uuid argument required")
	}

	return identifiers.CharacteristicID(args[0]), nil
}

type readHandler struct {
	args connArgs
	log  logger.Logger
}

func (h *readHandler) RegisterFlags(c *command.Command, flags *pflag.FlagSet) {
	registerConnFlags(flags, &h.args)
}

func (h *readHandler) Handle(ctx context.Context, args []string) error {
	char, err := characteristicArg(args)
	if err != nil {
		return errors.Trace(err)
	}

	s, err := dial(ctx, h.log, h.args)
	if err != nil {
		return errors.Trace(err)
	}
	defer s.close()

	value, err := s.conn.Read(char).Wait(ctx)
	if err != nil {
		return errors.Annotatef(err, "read: %s", char)
	}

	fmt.Println(hex.EncodeToString(value.([]byte)))

	return nil
}

func newReadCmd(props Props) *command.Command {
	h := &readHandler{log: props.Log}

	return command.New(command.Params{
		Name:         "read",
		Desc:         "Read a characteristic value",
		FlagRegistry: h,
		Handler:      h,
	})
}

type writeHandler struct {
	args struct {
		connArgs
		noResponse bool
		long       bool
		chunkSize  int
	}

	log logger.Logger
}

func (h *writeHandler) RegisterFlags(c *command.Command, flags *pflag.FlagSet) {
	registerConnFlags(flags, &h.args.connArgs)
	flags.BoolVar(&h.args.noResponse, "no-response", false, "write without response")
	flags.BoolVar(&h.args.long, "long", false, "write the payload in chunks")
	flags.IntVar(&h.args.chunkSize, "chunk-size", 0, "chunk size for --long, 0 uses the negotiated MTU")
}

func (h *writeHandler) Handle(ctx context.Context, args []string) error {
	char, err := characteristicArg(args)
	if err != nil {
		return errors.Trace(err)
	}

	if len(args) < 2 {
		return errors.New("hex payload argument required")
	}

	payload, err := hex.DecodeString(args[1])
	if err != nil {
		return errors.Annotate(err, "decode hex payload")
	}

	s, err := dial(ctx, h.log, h.args.connArgs)
	if err != nil {
		return errors.Trace(err)
	}
	defer s.close()

	var pending *client.Pending

	switch {
	case h.args.long:
		pending = s.conn.LongWrite(client.LongWriteParams{
			Characteristic: char,
			Payload:        payload,
			ChunkSize:      h.args.chunkSize,
		})
	case h.args.noResponse:
		pending = s.conn.WriteNoResponse(char, payload)
	default:
		pending = s.conn.Write(char, payload)
	}

	if _, err := pending.Wait(ctx); err != nil {
		return errors.Annotatef(err, "write: %s", char)
	}

	fmt.Printf("wrote %d bytes\n", len(payload))

	return nil
}

func newWriteCmd(props Props) *command.Command {
	h := &writeHandler{log: props.Log}

	return command.New(command.Params{
		Name:         "write",
		Desc:         "Write a hex payload to a characteristic",
		FlagRegistry: h,
		Handler:      h,
	})
}

type notifyHandler struct {
	args connArgs
	log  logger.Logger
}

func (h *notifyHandler) RegisterFlags(c *command.Command, flags *pflag.FlagSet) {
	registerConnFlags(flags, &h.args)
}

func (h *notifyHandler) Handle(ctx context.Context, args []string) error {
	char, err := characteristicArg(args)
	if err != nil {
		return errors.Trace(err)
	}

	s, err := dial(ctx, h.log, h.args)
	if err != nil {
		return errors.Trace(err)
	}
	defer s.close()

	sub, err := s.conn.SubscribeNotifications(ctx, char)
	if err != nil {
		return errors.Annotatef(err, "subscribe: %s", char)
	}

	h.log.Info("Streaming notifications, interrupt to stop", logger.Ctx{
		"characteristic": char,
	})

	for {
		select {
		case value, ok := <-sub.Values():
			if !ok {
				// The subscription completed, e.g. on disconnect.
				return nil
			}

			fmt.Println(hex.EncodeToString(value))
		case <-ctx.Done():
			unsubCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()

			return errors.Trace(sub.Unsubscribe(unsubCtx))
		}
	}
}

func newNotifyCmd(props Props) *command.Command {
	h := &notifyHandler{log: props.Log}

	return command.New(command.Params{
		Name:         "notify",
		Desc:         "Stream notifications from a characteristic",
		FlagRegistry: h,
		Handler:      h,
	})
}

type rssiHandler struct {
	args connArgs
	log  logger.Logger
}

func (h *rssiHandler) RegisterFlags(c *command.Command, flags *pflag.FlagSet) {
	registerConnFlags(flags, &h.args)
}

func (h *rssiHandler) Handle(ctx context.Context, args []string) error {
	s, err := dial(ctx, h.log, h.args)
	if err != nil {
		return errors.Trace(err)
	}
	defer s.close()

	value, err := s.conn.ReadRSSI().Wait(ctx)
	if err != nil {
		return errors.Annotate(err, "read rssi")
	}

	fmt.Printf("%d dBm\n", value.(int))

	return nil
}

func newRSSICmd(props Props) *command.Command {
	h := &rssiHandler{log: props.Log}

	return command.New(command.Params{
		Name:         "rssi",
		Desc:         "Read the signal strength of the connection",
		FlagRegistry: h,
		Handler:      h,
	})
}

type mtuHandler struct {
	args connArgs
	log  logger.Logger
}

func (h *mtuHandler) RegisterFlags(c *command.Command, flags *pflag.FlagSet) {
	registerConnFlags(flags, &h.args)
}

func (h *mtuHandler) Handle(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return errors.New("mtu argument required")
	}

	mtu, err := strconv.Atoi(args[0])
	if err != nil {
		return errors.Annotate(err, "parse mtu")
	}

	s, err := dial(ctx, h.log, h.args)
	if err != nil {
		return errors.Trace(err)
	}
	defer s.close()

	value, err := s.conn.RequestMTU(mtu).Wait(ctx)
	if err != nil {
		return errors.Annotate(err, "request mtu")
	}

	fmt.Printf("granted mtu %d\n", value.(int))

	return nil
}

func newMTUCmd(props Props) *command.Command {
	h := &mtuHandler{log: props.Log}

	return command.New(command.Params{
		Name:         "mtu",
		Desc:         "Negotiate the ATT MTU",
		FlagRegistry: h,
		Handler:      h,
	})
}
