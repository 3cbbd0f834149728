package modbus

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"
)

// testServer is a minimal Modbus-TCP slave backed by a register map.
type testServer struct {
	ln net.Listener

	mu        sync.Mutex
	registers map[uint16]uint16
	accepted  int

	// answer with a foreign function code or unit id
	wrongFunction bool
	wrongUnit     bool
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	s := &testServer{ln: ln, registers: make(map[uint16]uint16)}
	go s.serve()
	t.Cleanup(func() { ln.Close() })
	return s
}

func (s *testServer) addr() string { return s.ln.Addr().String() }

func (s *testServer) connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accepted
}

func (s *testServer) serve() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.accepted++
		s.mu.Unlock()
		go s.handle(conn)
	}
}

func (s *testServer) handle(conn net.Conn) {
	defer conn.Close()

	for {
		header := make([]byte, 7)
		if _, err := io.ReadFull(conn, header); err != nil {
			return
		}
		body := make([]byte, binary.BigEndian.Uint16(header[4:6])-1)
		if _, err := io.ReadFull(conn, body); err != nil {
			return
		}

		fc, data := body[0], body[1:]
		var pdu []byte

		s.mu.Lock()
		switch fc {
		case FuncCodeReadHoldingRegisters:
			addr := binary.BigEndian.Uint16(data[0:2])
			qty := binary.BigEndian.Uint16(data[2:4])
			if addr >= 9000 {
				pdu = []byte{fc | exceptionFlag, 0x02}
				break
			}
			pdu = []byte{fc, byte(2 * qty)}
			for i := uint16(0); i < qty; i++ {
				pdu = binary.BigEndian.AppendUint16(pdu, s.registers[addr+i])
			}
		case FuncCodeWriteSingleRegister:
			addr := binary.BigEndian.Uint16(data[0:2])
			s.registers[addr] = binary.BigEndian.Uint16(data[2:4])
			pdu = append([]byte{fc}, data[0:4]...)
		case FuncCodeWriteMultipleRegisters:
			addr := binary.BigEndian.Uint16(data[0:2])
			qty := binary.BigEndian.Uint16(data[2:4])
			for i := uint16(0); i < qty; i++ {
				s.registers[addr+i] = binary.BigEndian.Uint16(data[5+2*i : 7+2*i])
			}
			pdu = append([]byte{fc}, data[0:4]...)
		default:
			pdu = []byte{fc | exceptionFlag, 0x01}
		}
		if s.wrongFunction && pdu[0]&exceptionFlag == 0 {
			pdu[0] = FuncCodeWriteMultipleRegisters
			if fc == FuncCodeWriteMultipleRegisters {
				pdu[0] = FuncCodeReadHoldingRegisters
			}
		}
		unit := header[6]
		if s.wrongUnit {
			unit++
		}
		s.mu.Unlock()

		resp := make([]byte, 7, 7+len(pdu))
		copy(resp[0:4], header[0:4])
		binary.BigEndian.PutUint16(resp[4:6], uint16(len(pdu)+1))
		resp[6] = unit
		resp = append(resp, pdu...)
		if _, err := conn.Write(resp); err != nil {
			return
		}
	}
}

func TestClientRoundTrip(t *testing.T) {
	srv := newTestServer(t)
	client := NewClient(srv.addr(), 1, time.Second)
	ctx := context.Background()

	if err := client.WriteMultipleRegisters(ctx, 8018, []uint16{0x0003, 0x8000}); err != nil {
		t.Fatalf("WriteMultipleRegisters: %v", err)
	}
	if err := client.WriteSingleRegister(ctx, 8024, 0x6000); err != nil {
		t.Fatalf("WriteSingleRegister: %v", err)
	}

	regs, err := client.ReadHoldingRegisters(ctx, 8018, 2)
	if err != nil {
		t.Fatalf("ReadHoldingRegisters: %v", err)
	}
	if regs[0] != 0x0003 || regs[1] != 0x8000 {
		t.Errorf("registers = %v", regs)
	}

	regs, err = client.ReadHoldingRegisters(ctx, 8024, 1)
	if err != nil {
		t.Fatalf("ReadHoldingRegisters: %v", err)
	}
	if regs[0] != 0x6000 {
		t.Errorf("select register = 0x%04X, want 0x6000", regs[0])
	}
}

func TestClientAutoCloseDialsPerRequest(t *testing.T) {
	srv := newTestServer(t)
	client := NewClient(srv.addr(), 1, time.Second)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := client.ReadHoldingRegisters(ctx, 8001, 1); err != nil {
			t.Fatalf("read %d: %v", i, err)
		}
	}

	if client.IsOpen() {
		t.Error("connection should be closed with auto-close")
	}
	if got := srv.connections(); got != 3 {
		t.Errorf("connections = %d, want 3", got)
	}
}

func TestClientHeldConnection(t *testing.T) {
	srv := newTestServer(t)
	client := NewClient(srv.addr(), 1, time.Second)
	ctx := context.Background()

	client.SetAutoOpen(false)
	client.SetAutoClose(false)

	if _, err := client.ReadHoldingRegisters(ctx, 8001, 1); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}

	if err := client.Open(ctx); err != nil {
		t.Fatalf("Open: %v", err)
	}
	for i := uint16(0); i < 4; i++ {
		if err := client.WriteSingleRegister(ctx, 8025+i, 100*i); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := client.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if got := srv.connections(); got != 1 {
		t.Errorf("connections = %d, want 1", got)
	}
}

func TestClientException(t *testing.T) {
	srv := newTestServer(t)
	client := NewClient(srv.addr(), 1, time.Second)

	_, err := client.ReadHoldingRegisters(context.Background(), 9001, 1)
	var exc *ExceptionError
	if !errors.As(err, &exc) {
		t.Fatalf("expected *ExceptionError, got %v", err)
	}
}

func TestClientInvalidQuantity(t *testing.T) {
	client := NewClient("127.0.0.1:1", 1, time.Second)

	if _, err := client.ReadHoldingRegisters(context.Background(), 0, 0); err == nil {
		t.Error("expected error for zero quantity")
	}
	if err := client.WriteMultipleRegisters(context.Background(), 0, nil); err == nil {
		t.Error("expected error for empty write")
	}
}

func TestClientRejectsForeignResponse(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*testServer)
	}{
		{"function code", func(s *testServer) { s.wrongFunction = true }},
		{"unit id", func(s *testServer) { s.wrongUnit = true }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t)
			srv.mu.Lock()
			tt.setup(srv)
			srv.mu.Unlock()
			client := NewClient(srv.addr(), 1, time.Second)
			client.SetAutoClose(false)
			ctx := context.Background()

			if _, err := client.ReadHoldingRegisters(ctx, 8001, 2); !errors.Is(err, ErrUnexpectedResponse) {
				t.Errorf("read: err = %v, want ErrUnexpectedResponse", err)
			}
			if err := client.WriteSingleRegister(ctx, 8019, 1); !errors.Is(err, ErrUnexpectedResponse) {
				t.Errorf("write: err = %v, want ErrUnexpectedResponse", err)
			}
			if client.IsOpen() {
				t.Error("connection should be dropped after a foreign response")
			}
		})
	}
}

func TestClientExceptionMatchesRequest(t *testing.T) {
	srv := newTestServer(t)
	srv.mu.Lock()
	srv.wrongFunction = true
	srv.mu.Unlock()
	client := NewClient(srv.addr(), 1, time.Second)

	// exception responses keep the request's function code below the flag
	_, err := client.ReadHoldingRegisters(context.Background(), 9001, 1)
	var exc *ExceptionError
	if !errors.As(err, &exc) {
		t.Fatalf("expected *ExceptionError, got %v", err)
	}
}
