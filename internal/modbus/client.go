package modbus

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

var (
	// ErrNotConnected is returned when a request is issued on a closed
	// connection while auto-open is disabled.
	ErrNotConnected = errors.New("not connected")

	// ErrUnexpectedResponse is returned when a response does not answer the
	// request it was read for.
	ErrUnexpectedResponse = errors.New("unexpected response")
)

// Client is a Modbus-TCP master for a single unit. Like pyModbusTCP it can
// open the connection on demand (auto-open) and drop it after every request
// (auto-close); both are on by default.
type Client struct {
	address       string
	unitID        uint8
	conn          net.Conn
	mu            sync.Mutex
	transactionID uint16
	timeout       time.Duration
	connected     bool
	autoOpen      bool
	autoClose     bool
}

func NewClient(address string, unitID uint8, timeout time.Duration) *Client {
	return &Client{
		address:       address,
		unitID:        unitID,
		timeout:       timeout,
		transactionID: 0,
		autoOpen:      true,
		autoClose:     true,
	}
}

// Address returns host:port of the remote unit.
func (c *Client) Address() string {
	return c.address
}

// SetAutoOpen toggles dialing on demand
func (c *Client) SetAutoOpen(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.autoOpen = enabled
}

// SetAutoClose toggles closing after every request
func (c *Client) SetAutoClose(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.autoClose = enabled
}

// IsOpen reports whether a TCP connection is currently held.
func (c *Client) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Open stellt TCP-Verbindung her
func (c *Client) Open(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.openLocked(ctx)
}

func (c *Client) openLocked(ctx context.Context) error {
	if c.connected {
		return nil
	}

	dialer := net.Dialer{Timeout: c.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.address)
	if err != nil {
		return fmt.Errorf("connection failed: %w", err)
	}

	c.conn = conn
	c.connected = true

	return nil
}

// Close schließt die Verbindung
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.closeLocked()
}

func (c *Client) closeLocked() error {
	if !c.connected {
		return nil
	}

	err := c.conn.Close()
	c.connected = false
	c.conn = nil

	return err
}

// SendFrame sendet ein Frame und wartet auf Response
func (c *Client) SendFrame(ctx context.Context, request *ModbusFrame) (*ModbusFrame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		if !c.autoOpen {
			return nil, ErrNotConnected
		}
		if err := c.openLocked(ctx); err != nil {
			return nil, err
		}
	}
	if c.autoClose {
		defer c.closeLocked()
	}

	// Unique Transaction ID
	c.transactionID++
	request.TransactionID = c.transactionID
	request.UnitID = c.unitID

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	c.conn.SetDeadline(deadline)

	if _, err := c.conn.Write(request.Encode()); err != nil {
		c.closeLocked()
		return nil, fmt.Errorf("write failed: %w", err)
	}

	response, err := c.readFrame()
	if err != nil {
		// Stream is out of sync after a partial read, start over next time
		c.closeLocked()
		return nil, err
	}

	if response.TransactionID != request.TransactionID {
		c.closeLocked()
		return nil, fmt.Errorf("transaction ID mismatch: expected %d, got %d",
			request.TransactionID, response.TransactionID)
	}
	if response.FunctionCode&^exceptionFlag != request.FunctionCode {
		c.closeLocked()
		return nil, fmt.Errorf("%w: function code 0x%02X for request 0x%02X",
			ErrUnexpectedResponse, response.FunctionCode, request.FunctionCode)
	}
	if response.UnitID != request.UnitID {
		c.closeLocked()
		return nil, fmt.Errorf("%w: unit %d for request to unit %d",
			ErrUnexpectedResponse, response.UnitID, request.UnitID)
	}

	return response, nil
}

func (c *Client) readFrame() (*ModbusFrame, error) {
	header := make([]byte, mbapHeaderLength, maxFrameLength)
	if _, err := io.ReadFull(c.conn, header); err != nil {
		return nil, fmt.Errorf("read failed: %w", err)
	}

	length := int(binary.BigEndian.Uint16(header[4:6]))
	if length < 2 || mbapHeaderLength+length-1 > maxFrameLength {
		return nil, fmt.Errorf("invalid MBAP length %d", length)
	}

	body := make([]byte, length-1)
	if _, err := io.ReadFull(c.conn, body); err != nil {
		return nil, fmt.Errorf("read failed: %w", err)
	}

	response, err := DecodeFrame(append(header, body...))
	if err != nil {
		return nil, fmt.Errorf("decode failed: %w", err)
	}
	return response, nil
}

// ReadHoldingRegisters liest Holding Registers
func (c *Client) ReadHoldingRegisters(ctx context.Context, startAddr uint16, quantity uint16) ([]uint16, error) {
	if quantity == 0 || quantity > maxReadQuantity {
		return nil, fmt.Errorf("invalid quantity %d (1..%d)", quantity, maxReadQuantity)
	}

	request := ReadHoldingRegistersRequest(0, c.unitID, startAddr, quantity)

	response, err := c.SendFrame(ctx, request)
	if err != nil {
		return nil, err
	}

	registers, err := response.ParseRegisterResponse()
	if err != nil {
		return nil, err
	}
	if len(registers) != int(quantity) {
		return nil, fmt.Errorf("expected %d registers, got %d", quantity, len(registers))
	}
	return registers, nil
}

// WriteSingleRegister schreibt ein einzelnes Register
func (c *Client) WriteSingleRegister(ctx context.Context, addr uint16, value uint16) error {
	request := WriteSingleRegisterRequest(0, c.unitID, addr, value)

	response, err := c.SendFrame(ctx, request)
	if err != nil {
		return err
	}
	return response.ParseWriteResponse(addr)
}

// WriteMultipleRegisters schreibt einen Block zusammenhängender Register
func (c *Client) WriteMultipleRegisters(ctx context.Context, startAddr uint16, values []uint16) error {
	if len(values) == 0 || len(values) > maxWriteQuantity {
		return fmt.Errorf("invalid quantity %d (1..%d)", len(values), maxWriteQuantity)
	}

	request := WriteMultipleRegistersRequest(0, c.unitID, startAddr, values)

	response, err := c.SendFrame(ctx, request)
	if err != nil {
		return err
	}
	return response.ParseWriteResponse(startAddr)
}
