// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package rhi

import (
	"github.com/cockroachdb/errors"

	"github.com/gviegas/rhi/driver"
)

// SamplerDesc describes a Sampler.
type SamplerDesc struct {
	Name string
	driver.Sampling
}

// Sampler is a ref-counted texture sampler.
type Sampler struct {
	ref
	splr driver.Sampler
	desc SamplerDesc
}

// CreateSampler creates a new Sampler.
func (d *Device) CreateSampler(desc *SamplerDesc) (*Sampler, error) {
	if err := d.checkOpen(); err != nil {
		return nil, err
	}
	if desc.MaxAniso < 0 || desc.MinLOD > desc.MaxLOD {
		assertf("rhi: sampler: %q has invalid anisotropy/LOD (%d, [%g, %g])", desc.Name, desc.MaxAniso, desc.MinLOD, desc.MaxLOD)
	}
	splr, err := d.gpu.NewSampler(&desc.Sampling)
	if err != nil {
		return nil, errors.Wrapf(err, "rhi: sampler: creating %q", desc.Name)
	}
	s := &Sampler{splr: splr, desc: *desc}
	d.track(s, kSampler, desc.Name)
	return s, nil
}

func (s *Sampler) destroy() {
	s.splr.Destroy()
	s.splr = nil
}

// Desc returns the description used to create s.
func (s *Sampler) Desc() SamplerDesc { return s.desc }
