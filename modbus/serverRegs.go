package modbus

func (s *server) x03ReadHoldingRegisters(request *dataReader, response *dataBuilder) error {
	addr, _ := request.word()
	count, _ := request.word()
	if count < 1 || count > 125 {
		return IllegalValueErrorF("Read Holding Registers count must be 1..125, not %v", count)
	}

	atomic := s.StartAtomic()
	defer atomic.Complete()

	registers, err := s.ReadHoldings(atomic, addr, count)
	if err != nil {
		return err
	}

	response.byte(2 * len(registers))
	response.words(registers...)
	return nil
}

func (s *server) x04ReadInputRegisters(request *dataReader, response *dataBuilder) error {
	addr, _ := request.word()
	count, _ := request.word()
	if count < 1 || count > 125 {
		return IllegalValueErrorF("Read Input Registers count must be 1..125, not %v", count)
	}

	atomic := s.StartAtomic()
	defer atomic.Complete()

	registers, err := s.ReadInputs(atomic, addr, count)
	if err != nil {
		return err
	}

	response.byte(2 * len(registers))
	response.words(registers...)
	return nil
}

// xHoldingCommonWrite funnels every holding write past the registered
// UpdateHoldings hook, which sees the incoming and current values and may
// veto or rewrite the update.
func (s *server) xHoldingCommonWrite(atomic Atomic, addr int, values []int) error {
	current, err := s.ReadHoldings(atomic, addr, len(values))
	if err != nil {
		return err
	}

	replacement := values
	if s.updateHoldings != nil {
		replacement, err = s.updateHoldings(s, atomic, addr, values, current)
		if err != nil {
			return err
		}
	}

	// Update the cache with the replacement values
	return s.WriteHoldings(atomic, addr, replacement)
}

func (s *server) x06WriteSingleHoldingRegister(request *dataReader, response *dataBuilder) error {
	addr, _ := request.word()
	value, _ := request.word()

	atomic := s.StartAtomic()
	defer atomic.Complete()

	err := s.xHoldingCommonWrite(atomic, addr, []int{value})
	if err != nil {
		return err
	}

	response.words(addr, value)
	return nil
}

func (s *server) x10WriteHoldingRegisters(request *dataReader, response *dataBuilder) error {
	addr, _ := request.word()
	count, _ := request.word()
	bcnt, err := request.byte()
	if err != nil {
		return err
	}
	if count < 1 || count > 123 {
		return IllegalValueErrorF("Write Multiple Registers count must be 1..123, not %v", count)
	}
	if bcnt != count*2 {
		return IllegalValueErrorF("Expected %v bytes for %v registers, but got %v", count*2, count, bcnt)
	}
	words, err := request.words(count)
	if err != nil {
		return err
	}

	atomic := s.StartAtomic()
	defer atomic.Complete()

	err = s.xHoldingCommonWrite(atomic, addr, words)
	if err != nil {
		return err
	}

	response.words(addr, count)
	return nil
}
