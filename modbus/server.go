package modbus

/*
Atomic allows locked access to the server's internal cache of input and
holding register values. Implementation in serverCache.go. An Atomic instance
is created by calling the StartAtomic() function on the Server

Do not Complete an atomic unless you started it. It's normal to `defer a.Complete()` immediately after starting it

	atomic := server.StartAtomic()
	defer atomic.Complete()

	// do stuff using the atomic...

*/
type Atomic interface {
	// Complete indicates that all operations in the atomic set are queued. It returns when all operations have completed.
	Complete()

	execute(func())
}

// UpdateHoldings is a function called when holding registers are expected to be written by request from a remote client.
// It may veto the write by returning an error, or rewrite the values by returning a different slice.
// Do not Complete the atomic
type UpdateHoldings func(server Server, atomic Atomic, address int, values []int, current []int) ([]int, error)

// Server is a cache of input and holding registers that can answer requests
// from remote Modbus clients. Functions 0x03, 0x04, 0x06 and 0x10 are
// served; everything else is answered with exception 01.
type Server interface {
	// Diagnostics returns the current diagnostic counts of the server instance
	Diagnostics() ServerDiagnostics

	// StartAtomic requests that access to the internal memory model/cache of the
	// Server is granted. Only 1 transaction is active at a time, and is active until it is Completed.
	StartAtomic() Atomic

	// RegisterInputs indicates how many inputs to make available in the server memory model/cache
	RegisterInputs(count int)
	// ReadInputs performs an input read operation as part of an existing atomic operation from the memory model/cache
	ReadInputs(atomic Atomic, address int, count int) ([]int, error)
	// ReadInputsAtomic performs an atomic ReadInputs
	ReadInputsAtomic(address int, count int) ([]int, error)
	// WriteInputs performs an input write operation as part of an existing atomic operation to the memory model/cache
	WriteInputs(atomic Atomic, address int, values []int) error
	// WriteInputsAtomic performs an atomic WriteInputs
	WriteInputsAtomic(address int, values []int) error

	// RegisterHoldings indicates how many holdings to make available in the server memory model/cache, and which function
	// to call when a remote client attempts to update the holding register values
	RegisterHoldings(count int, handler UpdateHoldings)
	// ReadHoldings performs a holding register read operation as part of an existing atomic operation from the memory model/cache
	ReadHoldings(atomic Atomic, address int, count int) ([]int, error)
	// ReadHoldingsAtomic performs an atomic ReadHoldings
	ReadHoldingsAtomic(address int, count int) ([]int, error)
	// WriteHoldings performs a holding register write operation as part of an existing atomic operation to the memory model/cache
	WriteHoldings(atomic Atomic, address int, values []int) error
	// WriteHoldingsAtomic performs an atomic WriteHoldings
	WriteHoldingsAtomic(address int, values []int) error

	// request is called from the transport layer and instructs the server to handle a request.
	request(function byte, data []byte) ([]byte, error)
}

type requestHandler func(*dataReader, *dataBuilder) error

type requestHandlerMeta struct {
	function byte
	minSize  int
	handler  requestHandler
}

type server struct {
	rhandlers      map[byte]requestHandlerMeta
	inputs         []int
	holdings       []int
	atomics        chan Atomic
	diag           *serverDiagnosticManager
	updateHoldings UpdateHoldings
}

// NewServer creates a register cache Server. Bind it to the network with
// NewTCPServer.
func NewServer() Server {
	s := &server{}
	s.rhandlers = make(map[byte]requestHandlerMeta)
	s.diag = newServerDiagnosticManager()
	s.atomics = make(chan Atomic)

	// Set up the input handlers
	s.addRequestHandler(fnReadInputs, 4, s.x04ReadInputRegisters)

	// Set up the holding register handlers
	s.addRequestHandler(fnReadHoldings, 4, s.x03ReadHoldingRegisters)
	s.addRequestHandler(fnWriteSingleHolding, 4, s.x06WriteSingleHoldingRegister)
	s.addRequestHandler(fnWriteMultiHoldings, 5, s.x10WriteHoldingRegisters)

	go s.manageCache()

	return s
}

func (s *server) addRequestHandler(function byte, minsize int, handler requestHandler) {
	s.rhandlers[function] = requestHandlerMeta{function, minsize, handler}
}

func (s *server) Diagnostics() ServerDiagnostics {
	return s.diag.getDiagnostics()
}

func (s *server) RegisterInputs(count int) {
	atomic := s.StartAtomic()
	defer atomic.Complete()
	s.ensureInputs(atomic, count)
}

func (s *server) RegisterHoldings(count int, handler UpdateHoldings) {
	atomic := s.StartAtomic()
	defer atomic.Complete()
	s.ensureHoldings(atomic, count)
	s.updateHoldings = handler
}

func (s *server) request(function byte, request []byte) ([]byte, error) {
	s.diag.message()

	h, ok := s.rhandlers[function]
	if !ok {
		s.diag.exception()
		return nil, IllegalFunctionErrorF("Function code 0x%02x not implemented", function)
	}

	req := getReader(request)
	res := dataBuilder{}

	if err := req.canRead(h.minSize); err != nil {
		s.diag.exception()
		return nil, IllegalValueErrorF("Function code 0x%02x request too short: %v", function, err)
	}

	if err := h.handler(&req, &res); err != nil {
		s.diag.exception()
		return nil, err
	}

	if err := req.remaining(); err != nil {
		s.diag.exception()
		return nil, IllegalValueErrorF("Function code 0x%02x request has trailing bytes: %v", function, err)
	}

	return res.payload(), nil
}
