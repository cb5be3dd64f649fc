package demuxcheck

// Parameter is a named demuxer parameter.
type Parameter struct {
	Name  string
	Value float64
}

// ParameterExtension contains the parameters set before the demuxer starts.
type ParameterExtension struct {
	// values that must be accepted, in order.
	Valid []Parameter
	// values that must be rejected.
	Invalid []Parameter
}

// Kind implements Extension.
func (*ParameterExtension) Kind() string {
	return "parameters"
}

// ParameterCallbacks returns callbacks of runs that set demuxer parameters before starting.
func (tc *TestCase) ParameterCallbacks() Callbacks {
	cbs := tc.DefaultCallbacks()
	cbs.PreTest = tc.SetParameters
	return cbs
}

// SetParameters is a PreTest callback that sets the valid parameters and checks that they are kept,
// then sets the invalid ones and checks that they are rejected without changing the current value.
func (tc *TestCase) SetParameters(e *Engine) {
	ext := tc.parameters()
	if ext == nil {
		e.Fail("test case has no parameters extension")
		return
	}

	c, ok := e.Parameters()
	if !ok {
		e.Fail("demuxer does not expose parameters")
		return
	}

	for _, p := range ext.Valid {
		err := c.SetParameter(p.Name, p.Value)
		if err != nil {
			e.Fail("unable to set %s to %v: %v", p.Name, p.Value, err)
			return
		}

		if v, ok := c.Parameter(p.Name); !ok || v != p.Value {
			e.Fail("parameter %s is %v, expected %v", p.Name, v, p.Value)
			return
		}
	}

	for _, p := range ext.Invalid {
		prev, ok := c.Parameter(p.Name)
		if !ok {
			e.Fail("unknown parameter %s", p.Name)
			return
		}

		err := c.SetParameter(p.Name, p.Value)
		if err == nil {
			e.Fail("setting %s to %v did not fail", p.Name, p.Value)
			return
		}

		if v, _ := c.Parameter(p.Name); v != prev {
			e.Fail("parameter %s changed from %v to %v after an invalid value", p.Name, prev, v)
			return
		}
	}
}
