// Package gpu runs the convolution kernels on a WebGPU device.
package gpu

import (
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/catalina17/part2project/detector"
	"github.com/openfluke/webgpu/wgpu"
)

// ErrNoGPU marks a missing adapter, device or queue.
var ErrNoGPU = errors.New("gpu unavailable")

// Context holds the single WebGPU context for the process.
type Context struct {
	Instance *wgpu.Instance
	Adapter  *wgpu.Adapter
	Device   *wgpu.Device
	Queue    *wgpu.Queue
	Report   *detector.Report
	once     sync.Once
	err      error
}

var ctx Context

// GetContext returns the singleton GPU context, initializing it on first use.
// A failed initialization is remembered and returned on every later call.
func GetContext() (*Context, error) {
	ctx.once.Do(func() { ctx.err = ctx.init() })
	if ctx.err != nil {
		return nil, ctx.err
	}
	return &ctx, nil
}

// EnsureGPU ensures the GPU context is initialized.
func EnsureGPU() error {
	_, err := GetContext()
	return err
}

func (c *Context) init() (err error) {
	// The native library panics when it cannot load.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: native library: %v", ErrNoGPU, r)
		}
	}()

	c.Instance = wgpu.CreateInstance(nil)
	if c.Instance == nil {
		return fmt.Errorf("%w: failed to create WebGPU instance", ErrNoGPU)
	}

	c.Adapter, err = c.Instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		PowerPreference: wgpu.PowerPreferenceHighPerformance,
	})
	if err != nil || c.Adapter == nil {
		log.Printf("gpu: high performance adapter failed: %v, falling back", err)
		c.Adapter, err = c.Instance.RequestAdapter(nil)
	}
	if err != nil || c.Adapter == nil {
		c.Instance.Release()
		return fmt.Errorf("%w: request adapter: %v", ErrNoGPU, err)
	}

	rep := detector.FromAdapter(c.Adapter)
	c.Report = &rep
	log.Printf("gpu: using adapter %s (%s, %s)", rep.Name, rep.AdapterType, rep.Backend)

	c.Device, err = c.Adapter.RequestDevice(nil)
	if err != nil || c.Device == nil {
		c.Adapter.Release()
		c.Instance.Release()
		return fmt.Errorf("%w: request device: %v", ErrNoGPU, err)
	}

	c.Queue = c.Device.GetQueue()
	if c.Queue == nil {
		return fmt.Errorf("%w: device has no queue", ErrNoGPU)
	}
	return nil
}
