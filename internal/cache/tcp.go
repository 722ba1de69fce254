package cache

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"net"

	"github.com/sirupsen/logrus"
)

// frame opcodes for the TCP cache protocol: a push carries an item
// payload, a pop switches the connection from write mode into drain
// mode and the server streams back whatever it holds, LIFO.
const (
	opPush byte = 0
	opPop  byte = 1
)

// TCPBackend spills items to a remote cache-server process over a
// plain TCP connection, tagging every frame with an opcode byte the
// way the reference implementation's push/pop protocol does.
type TCPBackend struct {
	Addr string
}

func (b TCPBackend) NewWrite() (WriteBackend, error) {
	conn, err := net.Dial("tcp", b.Addr)
	if err != nil {
		return nil, fmt.Errorf("cache: dial %s: %w", b.Addr, err)
	}
	return &tcpWriteBackend{conn: conn, rw: bufio.NewReadWriter(bufio.NewReader(conn), bufio.NewWriter(conn))}, nil
}

type tcpWriteBackend struct {
	conn net.Conn
	rw   *bufio.ReadWriter
}

func writeFrame(w *bufio.Writer, op byte, payload []byte) error {
	if err := w.WriteByte(op); err != nil {
		return err
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return err
		}
	}
	return w.Flush()
}

func readFrame(r *bufio.Reader) (op byte, payload []byte, err error) {
	op, err = r.ReadByte()
	if err != nil {
		return 0, nil, err
	}
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return 0, nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	payload = make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return 0, nil, err
		}
	}
	return op, payload, nil
}

func (b *tcpWriteBackend) Push(item []byte) error {
	return writeFrame(b.rw.Writer, opPush, item)
}

func (b *tcpWriteBackend) IntoRead() (ReadBackend, error) {
	if err := writeFrame(b.rw.Writer, opPop, nil); err != nil {
		return nil, fmt.Errorf("cache: send pop signal: %w", err)
	}
	return &tcpReadBackend{conn: b.conn, r: b.rw.Reader}, nil
}

type tcpReadBackend struct {
	conn net.Conn
	r    *bufio.Reader
}

func (b *tcpReadBackend) Pop() ([]byte, error) {
	op, payload, err := readFrame(b.r)
	if err == io.EOF {
		b.conn.Close()
		return nil, io.EOF
	}
	if err != nil {
		b.conn.Close()
		return nil, fmt.Errorf("cache: read frame: %w", err)
	}
	if op != opPush {
		return nil, fmt.Errorf("cache: unexpected opcode %d in pop stream", op)
	}
	return payload, nil
}

// ServeCacheServer runs a cache-server process: for every incoming
// connection it relays push/pop frames into a fresh write/read pair
// opened on backend, so a client's spilled items live on this process's storage
// (or its own further-wrapped backend) instead of the client's.
func ServeCacheServer(addr string, backend Backend) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("cache: listen %s: %w", addr, err)
	}
	defer ln.Close()
	logrus.Infof("cache server listening on %s", addr)

	for {
		conn, err := ln.Accept()
		if err != nil {
			return fmt.Errorf("cache: accept: %w", err)
		}
		go handleCacheConn(conn, backend)
	}
}

func handleCacheConn(conn net.Conn, backend Backend) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	w := bufio.NewWriter(conn)

	wb, err := backend.NewWrite()
	if err != nil {
		logrus.Errorf("cache server: new write backend: %v", err)
		return
	}

	for {
		op, payload, err := readFrame(r)
		if err != nil {
			logrus.Errorf("cache server: read frame: %v", err)
			return
		}
		if op == opPop {
			break
		}
		if err := wb.Push(payload); err != nil {
			logrus.Errorf("cache server: push: %v", err)
			return
		}
	}

	rb, err := wb.IntoRead()
	if err != nil {
		logrus.Errorf("cache server: into read: %v", err)
		return
	}
	for {
		item, err := rb.Pop()
		if err == io.EOF {
			return
		}
		if err != nil {
			logrus.Errorf("cache server: pop: %v", err)
			return
		}
		if err := writeFrame(w, opPush, item); err != nil {
			logrus.Errorf("cache server: write frame: %v", err)
			return
		}
	}
}
