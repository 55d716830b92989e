package depth

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComputePressure(t *testing.T) {
	p := ComputePressure([]Level{{Notional: 200}, {Notional: 100}}, []Level{{Notional: 100}})
	assert.InDelta(t, 75.0, p.BidPct, 1e-9)
	assert.InDelta(t, 25.0, p.AskPct, 1e-9)
	assert.InDelta(t, 400.0, p.Total, 1e-9)
	assert.InDelta(t, 100.0, p.BidPct+p.AskPct, 1e-9)

	p = ComputePressure(nil, []Level{{Notional: 10}})
	assert.Equal(t, 0.0, p.BidPct)
	assert.Equal(t, 100.0, p.AskPct)
}

func TestComputePressureZeroTotal(t *testing.T) {
	p := ComputePressure(nil, nil)
	assert.Equal(t, 0.0, p.BidPct)
	assert.Equal(t, 0.0, p.AskPct)
	assert.Equal(t, 0.0, p.Total)
}

func TestHasSignal(t *testing.T) {
	assert.False(t, HasSignal(nil, nil))
	assert.True(t, HasSignal([]Level{{}}, nil))
	assert.True(t, HasSignal(nil, []Level{{}}))
}

func TestPassesPressureFloor(t *testing.T) {
	p := Pressure{BidPct: 60, AskPct: 40}
	assert.True(t, PassesPressureFloor(p, 0))
	assert.True(t, PassesPressureFloor(p, -5))
	assert.True(t, PassesPressureFloor(p, 60))
	assert.False(t, PassesPressureFloor(p, 65))
	assert.False(t, PassesPressureFloor(p, 150), "floor is clamped to 100")
	assert.True(t, PassesPressureFloor(Pressure{AskPct: 100}, 150))
}
