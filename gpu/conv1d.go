package gpu

import (
	"fmt"

	"github.com/openfluke/webgpu/wgpu"
)

// Conv1DShape describes one correlation problem. All buffers are row-major:
// padded input [Channels][PaddedWidth], weights [Filters][Channels][KernelWidth],
// output [Filters][OutWidth()].
type Conv1DShape struct {
	Channels    int
	PaddedWidth int
	KernelWidth int
	Filters     int
}

func (s Conv1DShape) OutWidth() int   { return s.PaddedWidth - s.KernelWidth + 1 }
func (s Conv1DShape) FilterArea() int { return s.Channels * s.KernelWidth }

func (s Conv1DShape) validate() error {
	if s.Channels <= 0 || s.KernelWidth <= 0 || s.Filters <= 0 || s.OutWidth() < 1 {
		return fmt.Errorf("gpu: invalid conv1d shape %+v", s)
	}
	return nil
}

// GenerateForwardShader builds the forward kernel. Workgroup (w, f) computes
// one output scalar: invocations write the products of filter f and the input
// window at w into workgroup scratch, then invocation 0 sums the scratch and
// adds the bias.
func GenerateForwardShader(s Conv1DShape, wg uint32) string {
	return fmt.Sprintf(`
@group(0) @binding(0) var<storage, read> padded : array<f32>;
@group(0) @binding(1) var<storage, read> weights : array<f32>;
@group(0) @binding(2) var<storage, read> biases : array<f32>;
@group(0) @binding(3) var<storage, read_write> output : array<f32>;

const PADDED_W: u32 = %du;
const KERNEL_W: u32 = %du;
const OUT_W: u32 = %du;
const FILTER_AREA: u32 = %du;
const WG: u32 = %du;

var<workgroup> scratch : array<f32, %d>;

@compute @workgroup_size(%d)
fn main(@builtin(workgroup_id) wid: vec3<u32>, @builtin(local_invocation_id) lid: vec3<u32>) {
	let w = wid.x;
	let f = wid.y;

	for (var i: u32 = lid.x; i < FILTER_AREA; i = i + WG) {
		let c = i / KERNEL_W;
		let k = i %% KERNEL_W;
		scratch[i] = padded[c * PADDED_W + w + k] * weights[f * FILTER_AREA + i];
	}

	workgroupBarrier();

	if (lid.x == 0u) {
		var sum: f32 = 0.0;
		for (var i: u32 = 0u; i < FILTER_AREA; i = i + 1u) {
			sum = sum + scratch[i];
		}
		output[f * OUT_W + w] = sum + biases[f];
	}
}
`, s.PaddedWidth, s.KernelWidth, s.OutWidth(), s.FilterArea(), wg, s.FilterArea(), wg)
}

// GenerateInputGradShader builds the input-gradient kernel. Workgroup (p, c)
// owns padded position p of channel c and sums, over every filter f and
// kernel offset k with 0 <= p-k < OUT_W, out_grad[f][p-k] * W[f][c][k].
func GenerateInputGradShader(s Conv1DShape, wg uint32) string {
	units := s.Filters * s.KernelWidth
	return fmt.Sprintf(`
@group(0) @binding(0) var<storage, read> out_grad : array<f32>;
@group(0) @binding(1) var<storage, read> weights : array<f32>;
@group(0) @binding(2) var<storage, read_write> in_grad : array<f32>;

const PADDED_W: u32 = %du;
const KERNEL_W: u32 = %du;
const OUT_W: u32 = %du;
const FILTER_AREA: u32 = %du;
const UNITS: u32 = %du;
const WG: u32 = %du;

var<workgroup> scratch : array<f32, %d>;

@compute @workgroup_size(%d)
fn main(@builtin(workgroup_id) wid: vec3<u32>, @builtin(local_invocation_id) lid: vec3<u32>) {
	let p = wid.x;
	let c = wid.y;

	for (var i: u32 = lid.x; i < UNITS; i = i + WG) {
		let f = i / KERNEL_W;
		let k = i %% KERNEL_W;
		var v: f32 = 0.0;
		if (p >= k && p - k < OUT_W) {
			v = out_grad[f * OUT_W + p - k] * weights[f * FILTER_AREA + c * KERNEL_W + k];
		}
		scratch[i] = v;
	}

	workgroupBarrier();

	if (lid.x == 0u) {
		var sum: f32 = 0.0;
		for (var i: u32 = 0u; i < UNITS; i = i + 1u) {
			sum = sum + scratch[i];
		}
		in_grad[c * PADDED_W + p] = sum;
	}
}
`, s.PaddedWidth, s.KernelWidth, s.OutWidth(), s.FilterArea(), units, wg, units, wg)
}

// GenerateDerivativesShader builds the weight/bias gradient kernel. Workgroup
// f owns filter f; each invocation walks the whole output width for its
// (channel, k) entries and adds the result onto the existing accumulator.
func GenerateDerivativesShader(s Conv1DShape, wg uint32) string {
	return fmt.Sprintf(`
@group(0) @binding(0) var<storage, read> out_grad : array<f32>;
@group(0) @binding(1) var<storage, read> padded : array<f32>;
@group(0) @binding(2) var<storage, read_write> d_weights : array<f32>;
@group(0) @binding(3) var<storage, read_write> d_biases : array<f32>;

const PADDED_W: u32 = %du;
const KERNEL_W: u32 = %du;
const OUT_W: u32 = %du;
const FILTER_AREA: u32 = %du;
const WG: u32 = %du;

@compute @workgroup_size(%d)
fn main(@builtin(workgroup_id) wid: vec3<u32>, @builtin(local_invocation_id) lid: vec3<u32>) {
	let f = wid.x;

	for (var i: u32 = lid.x; i < FILTER_AREA; i = i + WG) {
		let c = i / KERNEL_W;
		let k = i %% KERNEL_W;
		var acc: f32 = 0.0;
		for (var w: u32 = 0u; w < OUT_W; w = w + 1u) {
			acc = acc + out_grad[f * OUT_W + w] * padded[c * PADDED_W + w + k];
		}
		d_weights[f * FILTER_AREA + i] = d_weights[f * FILTER_AREA + i] + acc;
	}

	if (lid.x == 0u) {
		var db: f32 = 0.0;
		for (var w: u32 = 0u; w < OUT_W; w = w + 1u) {
			db = db + out_grad[f * OUT_W + w];
		}
		d_biases[f] = d_biases[f] + db;
	}
}
`, s.PaddedWidth, s.KernelWidth, s.OutWidth(), s.FilterArea(), wg, wg)
}

// Forward runs the forward kernel and returns the [Filters][OutWidth] output.
func Forward(s Conv1DShape, padded, weights, biases []float32) ([]float32, error) {
	c, err := GetContext()
	if err != nil {
		return nil, err
	}
	k, err := kernelsFor(c, s)
	if err != nil {
		return nil, err
	}

	inBuf, err := NewFloatBuffer(c, "conv1d_padded", padded)
	if err != nil {
		return nil, err
	}
	defer inBuf.Release()
	wBuf, err := NewFloatBuffer(c, "conv1d_weights", weights)
	if err != nil {
		return nil, err
	}
	defer wBuf.Release()
	bBuf, err := NewFloatBuffer(c, "conv1d_biases", biases)
	if err != nil {
		return nil, err
	}
	defer bBuf.Release()
	outN := s.Filters * s.OutWidth()
	outBuf, err := NewEmptyBuffer(c, "conv1d_output", outN)
	if err != nil {
		return nil, err
	}
	defer outBuf.Release()

	bg, err := bindGroup(c, "conv1d_fwd_bind", k.forward, inBuf, wBuf, bBuf, outBuf)
	if err != nil {
		return nil, err
	}
	defer bg.Release()

	err = submit(c, func(pass *wgpu.ComputePassEncoder) {
		pass.SetPipeline(k.forward)
		pass.SetBindGroup(0, bg, nil)
		pass.DispatchWorkgroups(uint32(s.OutWidth()), uint32(s.Filters), 1)
	})
	if err != nil {
		return nil, err
	}
	return ReadBuffer(c, outBuf, outN)
}

// Backward runs the input-gradient and derivative kernels. dWeights and
// dBiases are accumulated in place; the returned slice is the
// [Channels][PaddedWidth] input gradient.
func Backward(s Conv1DShape, padded, weights, outGrad, dWeights, dBiases []float32) ([]float32, error) {
	c, err := GetContext()
	if err != nil {
		return nil, err
	}
	k, err := kernelsFor(c, s)
	if err != nil {
		return nil, err
	}

	gBuf, err := NewFloatBuffer(c, "conv1d_out_grad", outGrad)
	if err != nil {
		return nil, err
	}
	defer gBuf.Release()
	pBuf, err := NewFloatBuffer(c, "conv1d_padded", padded)
	if err != nil {
		return nil, err
	}
	defer pBuf.Release()
	wBuf, err := NewFloatBuffer(c, "conv1d_weights", weights)
	if err != nil {
		return nil, err
	}
	defer wBuf.Release()
	dwBuf, err := NewFloatBuffer(c, "conv1d_d_weights", dWeights)
	if err != nil {
		return nil, err
	}
	defer dwBuf.Release()
	dbBuf, err := NewFloatBuffer(c, "conv1d_d_biases", dBiases)
	if err != nil {
		return nil, err
	}
	defer dbBuf.Release()
	inN := s.Channels * s.PaddedWidth
	igBuf, err := NewEmptyBuffer(c, "conv1d_in_grad", inN)
	if err != nil {
		return nil, err
	}
	defer igBuf.Release()

	inBG, err := bindGroup(c, "conv1d_in_grad_bind", k.inputGrad, gBuf, wBuf, igBuf)
	if err != nil {
		return nil, err
	}
	defer inBG.Release()
	derivBG, err := bindGroup(c, "conv1d_deriv_bind", k.derivatives, gBuf, pBuf, dwBuf, dbBuf)
	if err != nil {
		return nil, err
	}
	defer derivBG.Release()

	err = submit(c, func(pass *wgpu.ComputePassEncoder) {
		pass.SetPipeline(k.inputGrad)
		pass.SetBindGroup(0, inBG, nil)
		pass.DispatchWorkgroups(uint32(s.PaddedWidth), uint32(s.Channels), 1)

		pass.SetPipeline(k.derivatives)
		pass.SetBindGroup(0, derivBG, nil)
		pass.DispatchWorkgroups(uint32(s.Filters), 1, 1)
	})
	if err != nil {
		return nil, err
	}

	dw, err := ReadBuffer(c, dwBuf, len(dWeights))
	if err != nil {
		return nil, err
	}
	db, err := ReadBuffer(c, dbBuf, len(dBiases))
	if err != nil {
		return nil, err
	}
	inGrad, err := ReadBuffer(c, igBuf, inN)
	if err != nil {
		return nil, err
	}
	copy(dWeights, dw)
	copy(dBiases, db)
	return inGrad, nil
}

func bindGroup(c *Context, label string, pipeline *wgpu.ComputePipeline, bufs ...*wgpu.Buffer) (*wgpu.BindGroup, error) {
	entries := make([]wgpu.BindGroupEntry, len(bufs))
	for i, b := range bufs {
		entries[i] = wgpu.BindGroupEntry{Binding: uint32(i), Buffer: b, Size: b.GetSize()}
	}
	bg, err := c.Device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:   label,
		Layout:  pipeline.GetBindGroupLayout(0),
		Entries: entries,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", label, err)
	}
	return bg, nil
}

// submit records one compute pass and submits it.
func submit(c *Context, record func(pass *wgpu.ComputePassEncoder)) error {
	enc, err := c.Device.CreateCommandEncoder(nil)
	if err != nil {
		return fmt.Errorf("create command encoder: %w", err)
	}
	pass := enc.BeginComputePass(nil)
	record(pass)
	pass.End()

	cmd, err := enc.Finish(nil)
	if err != nil {
		enc.Release()
		return fmt.Errorf("finish command: %w", err)
	}
	enc.Release()
	c.Queue.Submit(cmd)
	cmd.Release()
	return nil
}
