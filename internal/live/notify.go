package live

import (
	"encoding/json"
	"errors"
	"net"

	"mirrorhub/internal/logger"
)

const ChecksDoneMessageType = "checks.done"

// ChecksDoneMessage is the datagram a checker run fires at the server once
// its results are committed.
type ChecksDoneMessage struct {
	Type  string `json:"type"`
	RunID string `json:"run_id"`
	Count int    `json:"count"`
}

// UDPListener accepts checks.done nudges and hands them to a callback,
// normally a watcher kick.
type UDPListener struct {
	addr   string
	onDone func(ChecksDoneMessage)
	conn   *net.UDPConn
}

func NewUDPListener(addr string, onDone func(ChecksDoneMessage)) *UDPListener {
	return &UDPListener{addr: addr, onDone: onDone}
}

// Listen binds the socket without serving yet. Run calls it implicitly when
// needed.
func (l *UDPListener) Listen() error {
	udpAddr, err := net.ResolveUDPAddr("udp", l.addr)
	if err != nil {
		return err
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return err
	}
	l.conn = conn
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (l *UDPListener) Addr() net.Addr {
	if l.conn == nil {
		return nil
	}
	return l.conn.LocalAddr()
}

func (l *UDPListener) Run() error {
	if l.conn == nil {
		if err := l.Listen(); err != nil {
			return err
		}
	}
	conn := l.conn
	defer conn.Close()

	logger.Log.Infow("udp nudge listener up", "addr", conn.LocalAddr().String())

	buffer := make([]byte, 2048)
	for {
		n, addr, err := conn.ReadFromUDP(buffer)
		if err != nil {
			return err
		}
		msg, err := parseChecksDone(buffer[:n])
		if err != nil {
			logger.Log.Debugw("invalid udp message", "from", addr, "error", err)
			continue
		}
		logger.Log.Debugw("checks done nudge", "from", addr, "run_id", msg.RunID, "count", msg.Count)
		if l.onDone != nil {
			l.onDone(msg)
		}
	}
}

func (l *UDPListener) Close() error {
	if l.conn == nil {
		return nil
	}
	return l.conn.Close()
}

// Notify fires one datagram at the server's nudge port. Best effort; the
// watcher's poll loop covers a lost packet.
func Notify(addr string, msg ChecksDoneMessage) error {
	if msg.Type == "" {
		msg.Type = ChecksDoneMessageType
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	conn, err := net.Dial("udp", addr)
	if err != nil {
		return err
	}
	defer conn.Close()
	_, err = conn.Write(payload)
	return err
}

func parseChecksDone(data []byte) (ChecksDoneMessage, error) {
	var msg ChecksDoneMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return msg, err
	}
	if msg.Type != ChecksDoneMessageType {
		return msg, errors.New("unexpected message type")
	}
	return msg, nil
}
