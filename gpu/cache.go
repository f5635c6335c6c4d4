package gpu

import (
	"fmt"
	"sync"

	"github.com/openfluke/webgpu/wgpu"
)

// kernelKey holds every value baked into the generated shader source.
type kernelKey struct {
	shape                Conv1DShape
	fwdWG, inWG, derivWG uint32
}

type conv1DKernels struct {
	forward     *wgpu.ComputePipeline
	inputGrad   *wgpu.ComputePipeline
	derivatives *wgpu.ComputePipeline
}

func (k *conv1DKernels) release() {
	for _, p := range []*wgpu.ComputePipeline{k.forward, k.inputGrad, k.derivatives} {
		if p != nil {
			p.Release()
		}
	}
}

// Compiled pipelines live for the process and are built lazily, once per key.
var kernelCache = struct {
	sync.Mutex
	m map[kernelKey]*conv1DKernels
}{m: map[kernelKey]*conv1DKernels{}}

// CachedKernels reports how many shape keys have compiled pipelines.
func CachedKernels() int {
	kernelCache.Lock()
	defer kernelCache.Unlock()
	return len(kernelCache.m)
}

// ResetKernelCache releases every cached pipeline.
func ResetKernelCache() {
	kernelCache.Lock()
	defer kernelCache.Unlock()
	for k, v := range kernelCache.m {
		v.release()
		delete(kernelCache.m, k)
	}
}

func keyFor(c *Context, s Conv1DShape) (kernelKey, error) {
	if err := s.validate(); err != nil {
		return kernelKey{}, err
	}
	rep := c.Report
	if !rep.FitsWorkgroupStorage(s.FilterArea()) || !rep.FitsWorkgroupStorage(s.Filters*s.KernelWidth) {
		return kernelKey{}, fmt.Errorf("gpu: conv1d scratch for %+v exceeds workgroup storage (%d bytes)",
			s, rep.Limits.MaxComputeWorkgroupStorageSize)
	}
	return kernelKey{
		shape:   s,
		fwdWG:   rep.WorkgroupFor(s.FilterArea()),
		inWG:    rep.WorkgroupFor(s.Filters * s.KernelWidth),
		derivWG: rep.WorkgroupFor(s.FilterArea()),
	}, nil
}

func kernelsFor(c *Context, s Conv1DShape) (*conv1DKernels, error) {
	key, err := keyFor(c, s)
	if err != nil {
		return nil, err
	}

	kernelCache.Lock()
	defer kernelCache.Unlock()
	if k, ok := kernelCache.m[key]; ok {
		return k, nil
	}

	k := &conv1DKernels{}
	if k.forward, err = compile(c, "conv1d_fwd", GenerateForwardShader(s, key.fwdWG)); err != nil {
		return nil, err
	}
	if k.inputGrad, err = compile(c, "conv1d_in_grad", GenerateInputGradShader(s, key.inWG)); err != nil {
		k.release()
		return nil, err
	}
	if k.derivatives, err = compile(c, "conv1d_deriv", GenerateDerivativesShader(s, key.derivWG)); err != nil {
		k.release()
		return nil, err
	}
	kernelCache.m[key] = k
	return k, nil
}

func compile(c *Context, label, code string) (*wgpu.ComputePipeline, error) {
	mod, err := c.Device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          label + "_shader",
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: code},
	})
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", label, err)
	}
	defer mod.Release()

	pipeline, err := c.Device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label:   label + "_pipe",
		Compute: wgpu.ProgrammableStageDescriptor{Module: mod, EntryPoint: "main"},
	})
	if err != nil {
		return nil, fmt.Errorf("pipeline %s: %w", label, err)
	}
	return pipeline, nil
}
