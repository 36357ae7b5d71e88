package shimtest

// Scratch addresses the generated shim uses for observable side effects.
const (
	StopCountAddr  = 16 // incremented by shim_request_stop
	ClearCountAddr = 20 // incremented by shim_clear_stop
	DepthAddr      = 24 // last depth passed to shim_best_move

	// ErrorMessageAddr holds the string returned by shim_error_message.
	ErrorMessageAddr = 512
)

// Shim describes a fake engine module implementing the engine ABI with
// constant results.
type Shim struct {
	Output              string // initial contents of the output window
	ErrorMessage        string // exports shim_error_message when set
	Omit                []string
	InputPtr            int32
	InputCap            int32
	OutputPtr           int32
	OutputCap           int32
	LastError           int32
	SetPositionStatus   int32
	GenerateMovesResult int32
	BestMoveResult      int32
	InCheck             int32
	Side                int32
	MemoryPages         uint32
	TrapBestMove        bool
}

// DefaultShim returns a shim with small windows in one page of memory,
// white to move and successful results.
func DefaultShim() Shim {
	return Shim{
		InputPtr:    1024,
		InputCap:    128,
		OutputPtr:   2048,
		OutputCap:   64,
		Side:        1,
		MemoryPages: 1,
	}
}

// Module builds the shim's module description.
func (s Shim) Module() *Module {
	omit := make(map[string]bool, len(s.Omit))
	for _, name := range s.Omit {
		omit[name] = true
	}

	constFn := func(name string, v int32) Func {
		return Func{Name: name, Results: []byte{I32}, Body: I32Const(v)}
	}
	counterFn := func(name string, addr int32) Func {
		return Func{Name: name, Body: Seq(
			I32Const(addr),
			I32Const(addr), I32Load(0), I32Const(1), I32Add(),
			I32Store(0),
		)}
	}

	bestMoveBody := Seq(I32Const(DepthAddr), LocalGet(0), I32Store(0), I32Const(s.BestMoveResult))
	if s.TrapBestMove {
		bestMoveBody = Unreachable()
	}

	all := []Func{
		constFn("shim_input_ptr", s.InputPtr),
		constFn("shim_input_capacity", s.InputCap),
		constFn("shim_output_ptr", s.OutputPtr),
		constFn("shim_output_capacity", s.OutputCap),
		constFn("shim_last_error", s.LastError),
		constFn("shim_side_to_move", s.Side),
		counterFn("shim_request_stop", StopCountAddr),
		counterFn("shim_clear_stop", ClearCountAddr),
		constFn("shim_set_position", s.SetPositionStatus),
		constFn("shim_generate_moves", s.GenerateMovesResult),
		{Name: "shim_best_move", Params: []byte{I32}, Results: []byte{I32}, Body: bestMoveBody},
		constFn("shim_is_in_check", s.InCheck),
	}

	if s.ErrorMessage != "" {
		all = append(all, Func{
			Name:    "shim_error_message",
			Params:  []byte{I32},
			Results: []byte{I32},
			Body:    I32Const(ErrorMessageAddr),
		})
	}

	m := &Module{MemoryPages: s.MemoryPages}
	if !omit["memory"] {
		m.MemoryName = "memory"
	}
	for _, f := range all {
		if omit[f.Name] {
			continue
		}
		m.Funcs = append(m.Funcs, f)
	}
	if s.Output != "" {
		m.Data = append(m.Data, Segment{Offset: uint32(s.OutputPtr), Data: []byte(s.Output)})
	}
	if s.ErrorMessage != "" {
		m.Data = append(m.Data, Segment{Offset: ErrorMessageAddr, Data: []byte(s.ErrorMessage)})
	}
	return m
}

// Bytes encodes the shim.
func (s Shim) Bytes() []byte {
	return s.Module().Encode()
}
