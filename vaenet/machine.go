package vae

import (
	"sync"

	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// machine is one compiled forward graph for a fixed number of rows.
// Creating a VM per call is wasteful, so modules cache one per batch
// size and rerun it, the same way a long lived inferencer would.
type machine struct {
	sync.Mutex

	g    *G.ExprGraph
	vm   G.VM
	ins  G.Nodes
	outs []*G.Value
}

// read registers output nodes whose values are captured on every run.
func (mc *machine) read(ns ...*G.Node) {
	for _, n := range ns {
		v := new(G.Value)
		G.Read(n, v)
		mc.outs = append(mc.outs, v)
	}
}

func (mc *machine) run(inputs ...*tensor.Dense) error {
	if len(inputs) != len(mc.ins) {
		return errors.Errorf("machine wants %d inputs, got %d", len(mc.ins), len(inputs))
	}
	mc.vm.Reset()
	for i, in := range inputs {
		if err := G.Let(mc.ins[i], in); err != nil {
			return errors.WithStack(err)
		}
	}
	if err := mc.vm.RunAll(); err != nil {
		return errors.WithStack(err)
	}
	return nil
}

// out clones the i-th captured value. The underlying buffer is reused on
// the next run, so callers get their own copy.
func (mc *machine) out(i int) *tensor.Dense {
	return (*mc.outs[i]).(*tensor.Dense).Clone().(*tensor.Dense)
}

func (mc *machine) Close() error { return mc.vm.Close() }

// machines caches one compiled machine per row count.
type machines struct {
	mu    sync.Mutex
	built map[int]*machine
	build func(rows int) (*machine, error)
}

func newMachines(build func(rows int) (*machine, error)) *machines {
	return &machines{
		built: make(map[int]*machine),
		build: build,
	}
}

func (ms *machines) get(rows int) (*machine, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if mc, ok := ms.built[rows]; ok {
		return mc, nil
	}
	mc, err := ms.build(rows)
	if err != nil {
		return nil, err
	}
	ms.built[rows] = mc
	return mc, nil
}

func (ms *machines) Close() error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	var retErr error
	for rows, mc := range ms.built {
		if err := mc.Close(); err != nil && retErr == nil {
			retErr = err
		}
		delete(ms.built, rows)
	}
	return retErr
}
