// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package engine

import (
	"errors"
	"fmt"

	"github.com/Thermoquad/panelsim/pkg/panelproto"
	"github.com/Thermoquad/panelsim/pkg/vfs"
)

// dispatchLocked executes the command of an in-sequence long frame
func (e *Engine) dispatchLocked(f *panelproto.Frame, raw []byte) error {
	switch f.Header.Command {
	case panelproto.CmdIdentification:
		payload, _ := panelproto.NewIdentification(e.phone).MarshalBinary()
		return e.replyLocked(requestReply(f, panelproto.CmdIdentificationAck), payload)

	case panelproto.CmdState:
		return e.replyLocked(requestReply(f, panelproto.CmdStateAck), e.store.Encode())

	case panelproto.CmdRelaySet:
		editErr := e.store.EditRelay(f.Payload)
		if err := e.defaultAnswer(f, raw); err != nil {
			return err
		}
		if editErr != nil {
			return fmt.Errorf("relay set: %w", editErr)
		}
		return nil

	case panelproto.CmdFileSearchInit:
		e.catalog.ResetSearch()
		return e.defaultAnswer(f, raw)

	case panelproto.CmdFileSearch:
		info, ok := e.catalog.Search(panelproto.ParseName(f.Payload))
		if !ok {
			return e.defaultAnswer(f, raw)
		}
		return e.fileResult(f, info)

	case panelproto.CmdFileOpenRead:
		info, err := e.catalog.Open(panelproto.ParseName(f.Payload))
		if err != nil {
			return e.replyError(f, panelproto.ErrorCodeFileNotFound, err)
		}
		return e.fileResult(f, info)

	case panelproto.CmdFileRead:
		return e.fileRead(f, raw)

	case panelproto.CmdFileClose:
		e.catalog.Close()
		return e.defaultAnswer(f, raw)

	case panelproto.CmdReplyError:
		return peerError(f.Payload)

	default:
		// The unknown command is reported before the default ack goes out
		unknown := &panelproto.UnknownCommandError{Code: f.Header.Command}
		e.stats.Error(unknown)
		e.signal(unknown)
		return e.defaultAnswer(f, raw)
	}
}

func (e *Engine) fileResult(f *panelproto.Frame, info vfs.Info) error {
	fd := panelproto.FileDescriptor{
		Size:      uint32(info.Size),
		Timestamp: uint32(info.ModTime.Unix()),
		Name:      info.Name,
	}
	payload, _ := fd.MarshalBinary()
	return e.replyLocked(requestReply(f, panelproto.CmdFileResult), payload)
}

func (e *Engine) fileRead(f *panelproto.Frame, raw []byte) error {
	req, err := panelproto.ParseFileReadRequest(f.Payload)
	if err != nil {
		if ackErr := e.defaultAnswer(f, raw); ackErr != nil {
			return ackErr
		}
		return fmt.Errorf("file read: %w", err)
	}

	length := min(int(req.Length), panelproto.MaxFileChunk)
	chunk, err := e.catalog.Read(int(req.Offset), length)
	switch {
	case errors.Is(err, vfs.ErrEndOfFile):
		return e.replyError(f, panelproto.ErrorCodeEndOfFile, err)
	case errors.Is(err, vfs.ErrNoFileOpen):
		return e.replyError(f, panelproto.ErrorCodeNoFileOpen, err)
	case err != nil:
		return err
	}

	return e.replyLocked(requestReply(f, panelproto.CmdFileReadAck),
		panelproto.EncodeFileReadReply(req.Offset, chunk))
}

// peerError describes a reply-error frame received from the server
func peerError(payload []byte) error {
	cmd, code, err := panelproto.ParseErrorReply(payload)
	if err != nil {
		return fmt.Errorf("%w: % X", panelproto.ErrPeerReported, payload)
	}
	return fmt.Errorf("%w: %s (0x%02X) code 0x%02X",
		panelproto.ErrPeerReported, panelproto.CommandName(cmd), cmd, uint8(code))
}
