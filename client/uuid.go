package client

import (
	"github.com/bleq/bleq/client/identifiers"
	"github.com/google/uuid"
)

var defaultBaseNEncoder = newBaseNEncoder(alphabetBase62)

func newOperationID() identifiers.OperationID {
	value := uuid.New()

	return identifiers.OperationID(defaultBaseNEncoder.Encode(value[:]))
}
