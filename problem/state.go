package problem

import (
	"encoding/gob"
	"io"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// State represents the serializable state of a Problem.
type State struct {
	Version int          `gob:"version"`
	Labels  []int        `gob:"labels"`
	Groups  []GroupState `gob:"groups"`
}

// GroupState represents the serializable state of a Group. Matrices are
// stored flattened in row-major order.
type GroupState struct {
	Rows    int       `gob:"rows"`
	NFixed  int       `gob:"n_fixed"`
	NRandom int       `gob:"n_random"`
	XData   []float64 `gob:"x_data"`
	YData   []float64 `gob:"y_data"`
	ZData   []float64 `gob:"z_data"` // empty when NRandom == 0
	Noise   []float64 `gob:"noise"`  // full rows x rows
}

// Save serializes the problem to gob format.
// Note: noise factorizations are not serialized as Load recomputes them.
func (p *Problem) Save(w io.Writer) error {
	state := State{
		Version: 1,
		Labels:  make([]int, len(p.labels)),
		Groups:  make([]GroupState, len(p.groups)),
	}
	for i, l := range p.labels {
		state.Labels[i] = int(l)
	}
	for i, g := range p.groups {
		rows := g.Rows()
		gs := GroupState{
			Rows:    rows,
			NFixed:  p.nFixed,
			NRandom: p.nRandom,
			XData:   flatten(g.X),
			YData:   make([]float64, rows),
			Noise:   flatten(g.Noise),
		}
		for r := 0; r < rows; r++ {
			gs.YData[r] = g.Y.AtVec(r)
		}
		if p.nRandom > 0 {
			gs.ZData = flatten(g.Z)
		}
		state.Groups[i] = gs
	}

	encoder := gob.NewEncoder(w)
	return encoder.Encode(state)
}

// Load deserializes a problem from gob format and validates it.
func Load(r io.Reader) (*Problem, error) {
	decoder := gob.NewDecoder(r)

	var state State
	if err := decoder.Decode(&state); err != nil {
		return nil, errors.Wrapf(ErrUsage, "decode problem: %v", err)
	}
	if state.Version != 1 {
		return nil, errors.Wrapf(ErrUsage, "unsupported gob version %d", state.Version)
	}

	labels := make([]Label, len(state.Labels))
	for i, l := range state.Labels {
		labels[i] = Label(l)
	}

	groups := make([]Group, len(state.Groups))
	for i, gs := range state.Groups {
		if gs.Rows <= 0 || gs.NFixed <= 0 || gs.NRandom < 0 {
			return nil, errors.Wrapf(ErrUsage, "group %d: invalid dimensions", i)
		}
		if len(gs.XData) != gs.Rows*gs.NFixed {
			return nil, errors.Wrapf(ErrUsage, "group %d: invalid X data length", i)
		}
		if len(gs.YData) != gs.Rows {
			return nil, errors.Wrapf(ErrUsage, "group %d: invalid Y data length", i)
		}
		if len(gs.ZData) != gs.Rows*gs.NRandom {
			return nil, errors.Wrapf(ErrUsage, "group %d: invalid Z data length", i)
		}
		if len(gs.Noise) != gs.Rows*gs.Rows {
			return nil, errors.Wrapf(ErrUsage, "group %d: invalid noise data length", i)
		}

		g := Group{
			X:     mat.NewDense(gs.Rows, gs.NFixed, gs.XData),
			Y:     mat.NewVecDense(gs.Rows, gs.YData),
			Noise: mat.NewSymDense(gs.Rows, gs.Noise),
		}
		if gs.NRandom > 0 {
			g.Z = mat.NewDense(gs.Rows, gs.NRandom, gs.ZData)
		}
		groups[i] = g
	}

	return New(groups, labels)
}

func flatten(m mat.Matrix) []float64 {
	r, c := m.Dims()
	data := make([]float64, 0, r*c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			data = append(data, m.At(i, j))
		}
	}
	return data
}
