package service

import (
	"fmt"

	"github.com/pl-aronis/moonstone/internal/mdm/mdmproto"
	"howett.net/plist"
)

// parseCommandBlob decodes a queued command's stored blob (the plist
// encoding of its Command dict) and pairs it with the row's uuid to
// produce the wire-ready mdmproto.Command.
func parseCommandBlob(uuid string, blob []byte) (*mdmproto.Command, error) {
	var payload map[string]any
	if _, err := plist.Unmarshal(blob, &payload); err != nil {
		return nil, fmt.Errorf("unmarshal command blob: %w", err)
	}
	return &mdmproto.Command{CommandUUID: uuid, Command: payload}, nil
}

// marshalErrorChain renders a reported ErrorChain (if any) to bytes
// for storage in the command row's result_blob, for audit purposes.
func marshalErrorChain(report *mdmproto.CommandReport) []byte {
	if len(report.ErrorChain) == 0 {
		return nil
	}
	data, err := plist.Marshal(report.ErrorChain, plist.XMLFormat)
	if err != nil {
		return nil
	}
	return data
}
