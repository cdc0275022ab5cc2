// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/panelsim/pkg/lamplist"
	"github.com/Thermoquad/panelsim/pkg/panelproto"
)

const (
	probeServerAddr = 0x01
	probePanelAddr  = 0x05
)

var (
	listenAddr    string
	probeTimeout  time.Duration
	probeFile     string
	probeLinger   time.Duration
	probeShowDump bool
)

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Accept one panel connection and walk it through a session",
	Long: `Act as the server for a single panel: accept a TCP connection, send the
sync handshake, request identification and state, then download a file from
the panel catalog (STATE2.DAT by default) and decode it when it is a lamp list.

Every frame exchanged is printed in decoded form. After the session the probe
keeps printing unsolicited frames for --linger.

Useful for checking a running fleet (point it at this address) or a real panel.`,
	RunE: runListen,
}

func init() {
	listenCmd.Flags().StringVarP(&listenAddr, "listen", "l", ":5000", "Address to accept the panel on")
	listenCmd.Flags().DurationVar(&probeTimeout, "timeout", 5*time.Second, "Reply timeout per request")
	listenCmd.Flags().StringVar(&probeFile, "file", lamplist.FileName, "File to download (empty to skip)")
	listenCmd.Flags().DurationVar(&probeLinger, "linger", 30*time.Second, "Keep printing unsolicited frames this long")
	listenCmd.Flags().BoolVar(&probeShowDump, "dump", false, "Hex dump the downloaded file")
	rootCmd.AddCommand(listenCmd)
}

// probe is the server side of one panel session
type probe struct {
	conn    net.Conn
	decoder *panelproto.Decoder
	pending [][]byte
	tx      uint8
	timeout time.Duration
}

func runListen(cmd *cobra.Command, args []string) error {
	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return err
	}
	defer ln.Close()

	fmt.Printf("Panelsim - Listen Probe\n")
	fmt.Printf("Waiting for a panel on %s\n\n", ln.Addr())

	conn, err := ln.Accept()
	if err != nil {
		return err
	}
	defer conn.Close()
	fmt.Printf("Panel connected from %s\n\n", conn.RemoteAddr())

	p := &probe{
		conn:    conn,
		decoder: panelproto.NewDecoder(),
		timeout: probeTimeout,
	}

	if err := p.session(); err != nil {
		return err
	}
	return p.linger(probeLinger)
}

func (p *probe) session() error {
	if err := p.sync(); err != nil {
		return err
	}

	f, err := p.request(panelproto.CmdIdentification, nil)
	if err != nil {
		return err
	}
	if id, err := panelproto.ParseIdentification(f.Payload); err == nil {
		fmt.Printf("Identified panel %s (type 0x%02X)\n\n", id.Phone, id.DeviceType)
	}

	if _, err := p.request(panelproto.CmdState, nil); err != nil {
		return err
	}

	if probeFile == "" {
		return nil
	}
	return p.download(probeFile)
}

func (p *probe) sync() error {
	if _, err := p.conn.Write(panelproto.EncodeSync()); err != nil {
		return err
	}

	deadline := time.Now().Add(p.timeout)
	for {
		raw, err := p.next(deadline)
		if err != nil {
			return fmt.Errorf("sync: %w", err)
		}
		if panelproto.IsSync(raw) {
			p.tx = panelproto.BootstrapTx + 1
			return nil
		}
	}
}

// request sends a long frame and waits for the frame answering it
func (p *probe) request(cmd uint8, payload []byte) (*panelproto.Frame, error) {
	tx := p.tx
	h := panelproto.NewRequest(tx, tx-panelproto.BootstrapTx-1, probeServerAddr, probePanelAddr, cmd)
	wire, err := panelproto.EncodeFrame(h, payload)
	if err != nil {
		return nil, err
	}
	if _, err := p.conn.Write(wire); err != nil {
		return nil, err
	}
	p.tx++

	deadline := time.Now().Add(p.timeout)
	for {
		raw, err := p.next(deadline)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", panelproto.CommandName(cmd), err)
		}
		if !panelproto.IsLongFrame(raw) {
			continue
		}
		f, err := panelproto.ParseFrame(raw)
		if err != nil {
			continue
		}
		if f.Header.TxID == tx+1 {
			return f, nil
		}
	}
}

func (p *probe) download(name string) error {
	if _, err := p.request(panelproto.CmdFileSearchInit, nil); err != nil {
		return err
	}

	f, err := p.request(panelproto.CmdFileOpenRead, panelproto.EncodeName(name))
	if err != nil {
		return err
	}
	if f.Header.Command == panelproto.CmdReplyError {
		fmt.Printf("Panel has no file %s\n", name)
		return nil
	}
	fd, err := panelproto.ParseFileDescriptor(f.Payload)
	if err != nil {
		return err
	}

	var content []byte
	for uint32(len(content)) < fd.Size {
		req, _ := panelproto.FileReadRequest{
			Offset: uint32(len(content)),
			Length: panelproto.MaxFileChunk,
		}.MarshalBinary()

		f, err := p.request(panelproto.CmdFileRead, req)
		if err != nil {
			return err
		}
		if f.Header.Command != panelproto.CmdFileReadAck {
			break
		}
		_, chunk, err := panelproto.ParseFileReadReply(f.Payload)
		if err != nil {
			return err
		}
		if len(chunk) == 0 {
			break
		}
		content = append(content, chunk...)
	}

	if _, err := p.request(panelproto.CmdFileClose, nil); err != nil {
		return err
	}

	fmt.Printf("Downloaded %s: %d of %d bytes\n", fd.Name, len(content), fd.Size)
	if probeShowDump {
		fmt.Print(panelproto.FormatHexDump(content))
	}
	if fd.Name == lamplist.FileName {
		printLamps(content)
	}
	fmt.Println()
	return nil
}

func (p *probe) linger(d time.Duration) error {
	if d <= 0 {
		return nil
	}
	fmt.Printf("Listening for unsolicited frames for %s (Ctrl+C to stop)\n\n", d)

	interrupted := make(chan os.Signal, 1)
	signal.Notify(interrupted, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(interrupted)
	go func() {
		<-interrupted
		p.conn.SetReadDeadline(time.Now())
	}()

	_, err := p.next(time.Now().Add(d))
	for err == nil {
		_, err = p.next(time.Now().Add(d))
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return nil
	}
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	fmt.Printf("Connection closed: %v\n", err)
	return nil
}

// next returns the next frame from the panel, printing it
func (p *probe) next(deadline time.Time) ([]byte, error) {
	buf := make([]byte, 512)
	for len(p.pending) == 0 {
		if err := p.conn.SetReadDeadline(deadline); err != nil {
			return nil, err
		}
		n, err := p.conn.Read(buf)
		if n > 0 {
			frames, derr := p.decoder.Feed(buf[:n])
			if derr != nil {
				fmt.Printf("[ERROR] %v\n", derr)
			}
			p.pending = append(p.pending, frames...)
		}
		if err != nil && len(p.pending) == 0 {
			return nil, err
		}
	}

	raw := p.pending[0]
	p.pending = p.pending[1:]
	fmt.Print(panelproto.FormatFrame(raw))
	return raw, nil
}

func printLamps(content []byte) {
	nodes, err := lamplist.Parse(content)
	if err != nil {
		fmt.Printf("Lamp list: %v\n", err)
		return
	}
	fmt.Printf("Lamp list: %d nodes\n", len(nodes))
	for _, n := range nodes {
		fmt.Printf("  node %4d  status 0x%08X  mode %d  level %3d%%/%3d%%  %5d mV  %5d mA  %d Wh  %d h\n",
			n.ID, n.Status, n.Mode, n.LevelHost, n.LevelNode, n.Voltage, n.Current, n.Energy, n.Worktime)
	}
}
