package tensor

import (
	"fmt"
	"math"
)

// opBase carries the recorded inputs shared by every operation.
type opBase struct {
	inputs []*Tensor
}

func (o *opBase) Inputs() []*Tensor { return o.inputs }

func anyRequiresGrad(tensors []*Tensor) bool {
	for _, t := range tensors {
		if t.requiresGrad {
			return true
		}
	}
	return false
}

// attach records op as the creator of out when gradient tracking is needed.
// Constant subgraphs (teacher targets, labels) stay creator-free so Backward
// never walks them.
func attach(out *Tensor, op Operation, inputs []*Tensor) *Tensor {
	if anyRequiresGrad(inputs) {
		out.creator = op
		out.requiresGrad = true
	}
	return out
}

// reduceGradientToShape sums a gradient over dimensions that were expanded
// by broadcasting during the forward pass.
func reduceGradientToShape(grad *Tensor, targetShape []int) (*Tensor, error) {
	if shapesEqual(grad.Shape, targetShape) {
		return grad.Clone()
	}

	result := grad
	var err error

	// Sum over extra leading dimensions.
	for len(result.Shape) > len(targetShape) {
		result, err = Sum(result, 0, false)
		if err != nil {
			return nil, err
		}
	}

	// Sum over dimensions broadcast from size 1.
	for i := range targetShape {
		if i < len(result.Shape) && result.Shape[i] != targetShape[i] && targetShape[i] == 1 {
			result, err = Sum(result, i, true)
			if err != nil {
				return nil, err
			}
		}
	}

	if !shapesEqual(result.Shape, targetShape) {
		result, err = Reshape(result, targetShape)
		if err != nil {
			return nil, err
		}
	}
	return result, nil
}

func accumulateGrad(t *Tensor, g *Tensor) error {
	if t.grad == nil {
		clone, err := g.Clone()
		if err != nil {
			return err
		}
		clone.requiresGrad = false
		clone.creator = nil
		t.grad = clone
		return nil
	}
	dst := t.grad.Data.([]float32)
	src := g.Data.([]float32)
	if len(dst) != len(src) {
		return fmt.Errorf("gradient size mismatch: %d vs %d", len(dst), len(src))
	}
	for i := range dst {
		dst[i] += src[i]
	}
	return nil
}

// Backward runs reverse-mode differentiation from root, accumulating
// gradients into every reachable tensor that requires grad. The root is
// seeded with ones, so it is normally a scalar loss.
func Backward(root *Tensor) error {
	if root.creator == nil {
		return fmt.Errorf("Backward called on a tensor with no recorded operations")
	}

	seed, err := Ones(root.Shape, Float32)
	if err != nil {
		return err
	}
	if err := accumulateGrad(root, seed); err != nil {
		return err
	}

	// Topological order over the creator graph.
	var order []*Tensor
	visited := make(map[*Tensor]bool)
	var visit func(*Tensor)
	visit = func(t *Tensor) {
		if visited[t] {
			return
		}
		visited[t] = true
		if t.creator != nil {
			for _, in := range t.creator.Inputs() {
				visit(in)
			}
		}
		order = append(order, t)
	}
	visit(root)

	for i := len(order) - 1; i >= 0; i-- {
		t := order[i]
		if t.creator == nil || t.grad == nil {
			continue
		}
		grads, err := t.creator.Backward(t.grad)
		if err != nil {
			return fmt.Errorf("backward failed at %s: %v", t, err)
		}
		inputs := t.creator.Inputs()
		if len(grads) != len(inputs) {
			return fmt.Errorf("operation returned %d gradients for %d inputs", len(grads), len(inputs))
		}
		for j, g := range grads {
			in := inputs[j]
			if g == nil || (!in.requiresGrad && in.creator == nil) {
				continue
			}
			if err := accumulateGrad(in, g); err != nil {
				return err
			}
		}
	}
	return nil
}

// ---- elementwise ops ----

type addOp struct{ opBase }

func (op *addOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	gradA, err := reduceGradientToShape(gradOut, op.inputs[0].Shape)
	if err != nil {
		return nil, err
	}
	gradB, err := reduceGradientToShape(gradOut, op.inputs[1].Shape)
	if err != nil {
		return nil, err
	}
	return []*Tensor{gradA, gradB}, nil
}

func AddAutograd(a, b *Tensor) (*Tensor, error) {
	out, err := Add(a, b)
	if err != nil {
		return nil, err
	}
	op := &addOp{opBase{inputs: []*Tensor{a, b}}}
	return attach(out, op, op.inputs), nil
}

type subOp struct{ opBase }

func (op *subOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	gradA, err := reduceGradientToShape(gradOut, op.inputs[0].Shape)
	if err != nil {
		return nil, err
	}
	neg, err := Scale(gradOut, -1)
	if err != nil {
		return nil, err
	}
	gradB, err := reduceGradientToShape(neg, op.inputs[1].Shape)
	if err != nil {
		return nil, err
	}
	return []*Tensor{gradA, gradB}, nil
}

func SubAutograd(a, b *Tensor) (*Tensor, error) {
	out, err := Sub(a, b)
	if err != nil {
		return nil, err
	}
	op := &subOp{opBase{inputs: []*Tensor{a, b}}}
	return attach(out, op, op.inputs), nil
}

type mulOp struct{ opBase }

func (op *mulOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	a, b := op.inputs[0], op.inputs[1]

	bb, err := BroadcastTensor(b, gradOut.Shape)
	if err != nil {
		return nil, err
	}
	gradAFull, err := Mul(gradOut, bb)
	if err != nil {
		return nil, err
	}
	gradA, err := reduceGradientToShape(gradAFull, a.Shape)
	if err != nil {
		return nil, err
	}

	ab, err := BroadcastTensor(a, gradOut.Shape)
	if err != nil {
		return nil, err
	}
	gradBFull, err := Mul(gradOut, ab)
	if err != nil {
		return nil, err
	}
	gradB, err := reduceGradientToShape(gradBFull, b.Shape)
	if err != nil {
		return nil, err
	}
	return []*Tensor{gradA, gradB}, nil
}

func MulAutograd(a, b *Tensor) (*Tensor, error) {
	out, err := Mul(a, b)
	if err != nil {
		return nil, err
	}
	op := &mulOp{opBase{inputs: []*Tensor{a, b}}}
	return attach(out, op, op.inputs), nil
}

type divOp struct{ opBase }

func (op *divOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	a, b := op.inputs[0], op.inputs[1]

	bb, err := BroadcastTensor(b, gradOut.Shape)
	if err != nil {
		return nil, err
	}
	gradAFull, err := Div(gradOut, bb)
	if err != nil {
		return nil, err
	}
	gradA, err := reduceGradientToShape(gradAFull, a.Shape)
	if err != nil {
		return nil, err
	}

	// dL/db = -g * a / b^2
	ab, err := BroadcastTensor(a, gradOut.Shape)
	if err != nil {
		return nil, err
	}
	num, err := Mul(gradOut, ab)
	if err != nil {
		return nil, err
	}
	b2, err := Mul(bb, bb)
	if err != nil {
		return nil, err
	}
	gradBFull, err := Div(num, b2)
	if err != nil {
		return nil, err
	}
	gradBFull, err = Scale(gradBFull, -1)
	if err != nil {
		return nil, err
	}
	gradB, err := reduceGradientToShape(gradBFull, b.Shape)
	if err != nil {
		return nil, err
	}
	return []*Tensor{gradA, gradB}, nil
}

func DivAutograd(a, b *Tensor) (*Tensor, error) {
	out, err := Div(a, b)
	if err != nil {
		return nil, err
	}
	op := &divOp{opBase{inputs: []*Tensor{a, b}}}
	return attach(out, op, op.inputs), nil
}

type scaleOp struct {
	opBase
	factor float64
}

func (op *scaleOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	g, err := Scale(gradOut, op.factor)
	if err != nil {
		return nil, err
	}
	return []*Tensor{g}, nil
}

func ScaleAutograd(t *Tensor, factor float64) (*Tensor, error) {
	out, err := Scale(t, factor)
	if err != nil {
		return nil, err
	}
	op := &scaleOp{opBase: opBase{inputs: []*Tensor{t}}, factor: factor}
	return attach(out, op, op.inputs), nil
}

type addScalarOp struct{ opBase }

func (op *addScalarOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	g, err := gradOut.Clone()
	if err != nil {
		return nil, err
	}
	return []*Tensor{g}, nil
}

func AddScalarAutograd(t *Tensor, value float64) (*Tensor, error) {
	out, err := unary(t, func(v float32) float32 { return v + float32(value) })
	if err != nil {
		return nil, err
	}
	op := &addScalarOp{opBase{inputs: []*Tensor{t}}}
	return attach(out, op, op.inputs), nil
}

type logOp struct{ opBase }

func (op *logOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	g, err := Div(gradOut, op.inputs[0])
	if err != nil {
		return nil, err
	}
	return []*Tensor{g}, nil
}

// LogAutograd: d log(x)/dx = 1/x; like Log, zeros in x poison the gradient.
func LogAutograd(t *Tensor) (*Tensor, error) {
	out, err := Log(t)
	if err != nil {
		return nil, err
	}
	op := &logOp{opBase{inputs: []*Tensor{t}}}
	return attach(out, op, op.inputs), nil
}

type xLogYOp struct{ opBase }

func (op *xLogYOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	a, b := op.inputs[0], op.inputs[1]
	aData, err := a.GetFloat32Data()
	if err != nil {
		return nil, err
	}
	bData, err := b.GetFloat32Data()
	if err != nil {
		return nil, err
	}
	gData, err := gradOut.GetFloat32Data()
	if err != nil {
		return nil, err
	}

	grad := make([]float32, len(bData))
	for i, av := range aData {
		if av == 0 {
			continue
		}
		grad[i] = gData[i] * av / bData[i]
	}
	g, err := NewTensor(b.Shape, Float32, grad)
	if err != nil {
		return nil, err
	}
	return []*Tensor{nil, g}, nil
}

// XLogYAutograd computes a * log(b) elementwise with the convention that
// entries where a == 0 are exactly zero, regardless of b. This keeps
// soft-target cross-entropy finite when both the target and the prediction
// vanish on the same entry. No gradient flows to a; db = a/b where a != 0.
func XLogYAutograd(a, b *Tensor) (*Tensor, error) {
	if !ShapesEqual(a.Shape, b.Shape) {
		return nil, fmt.Errorf("XLogY requires matching shapes, got %v and %v", a.Shape, b.Shape)
	}
	aData, err := a.GetFloat32Data()
	if err != nil {
		return nil, err
	}
	bData, err := b.GetFloat32Data()
	if err != nil {
		return nil, err
	}

	vals := make([]float32, len(aData))
	for i, av := range aData {
		if av == 0 {
			continue
		}
		vals[i] = av * float32(math.Log(float64(bData[i])))
	}
	out, err := NewTensor(a.Shape, Float32, vals)
	if err != nil {
		return nil, err
	}
	op := &xLogYOp{opBase{inputs: []*Tensor{a, b}}}
	return attach(out, op, op.inputs), nil
}

// ---- matrix / shape ops ----

type matMulOp struct{ opBase }

func (op *matMulOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	a, b := op.inputs[0], op.inputs[1]

	bT, err := Transpose(b, 0, 1)
	if err != nil {
		return nil, err
	}
	gradA, err := MatMul(gradOut, bT)
	if err != nil {
		return nil, err
	}

	aT, err := Transpose(a, 0, 1)
	if err != nil {
		return nil, err
	}
	gradB, err := MatMul(aT, gradOut)
	if err != nil {
		return nil, err
	}
	return []*Tensor{gradA, gradB}, nil
}

func MatMulAutograd(a, b *Tensor) (*Tensor, error) {
	out, err := MatMul(a, b)
	if err != nil {
		return nil, err
	}
	op := &matMulOp{opBase{inputs: []*Tensor{a, b}}}
	return attach(out, op, op.inputs), nil
}

type permuteOp struct {
	opBase
	perm []int
}

func (op *permuteOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	g, err := Permute(gradOut, inversePermutation(op.perm))
	if err != nil {
		return nil, err
	}
	return []*Tensor{g}, nil
}

func PermuteAutograd(t *Tensor, perm []int) (*Tensor, error) {
	out, err := Permute(t, perm)
	if err != nil {
		return nil, err
	}
	op := &permuteOp{opBase: opBase{inputs: []*Tensor{t}}, perm: append([]int(nil), perm...)}
	return attach(out, op, op.inputs), nil
}

type reshapeOp struct {
	opBase
	srcShape []int
}

func (op *reshapeOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	g, err := Reshape(gradOut, op.srcShape)
	if err != nil {
		return nil, err
	}
	return []*Tensor{g}, nil
}

func ReshapeAutograd(t *Tensor, newShape []int) (*Tensor, error) {
	out, err := Reshape(t, newShape)
	if err != nil {
		return nil, err
	}
	op := &reshapeOp{opBase: opBase{inputs: []*Tensor{t}}, srcShape: append([]int(nil), t.Shape...)}
	return attach(out, op, op.inputs), nil
}

// ---- reductions ----

type sumDimOp struct {
	opBase
	dim int
}

func (op *sumDimOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	src := op.inputs[0]
	g, err := Zeros(src.Shape, Float32)
	if err != nil {
		return nil, err
	}
	gOut := gradOut.Data.([]float32)
	gData := g.Data.([]float32)
	n := src.Shape[op.dim]
	stride := src.Strides[op.dim]
	outer := src.NumElems / n
	for lane := 0; lane < outer; lane++ {
		base := laneOffset(lane, op.dim, src.Shape, src.Strides)
		for j := 0; j < n; j++ {
			gData[base+j*stride] = gOut[lane]
		}
	}
	return []*Tensor{g}, nil
}

// SumDimAutograd reduces over dim (axis removed from the output shape).
func SumDimAutograd(t *Tensor, dim int) (*Tensor, error) {
	out, err := Sum(t, dim, false)
	if err != nil {
		return nil, err
	}
	op := &sumDimOp{opBase: opBase{inputs: []*Tensor{t}}, dim: dim}
	return attach(out, op, op.inputs), nil
}

type meanAllOp struct{ opBase }

func (op *meanAllOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	src := op.inputs[0]
	g, err := Zeros(src.Shape, Float32)
	if err != nil {
		return nil, err
	}
	scale := gradOut.Data.([]float32)[0] / float32(src.NumElems)
	gData := g.Data.([]float32)
	for i := range gData {
		gData[i] = scale
	}
	return []*Tensor{g}, nil
}

func MeanAllAutograd(t *Tensor) (*Tensor, error) {
	out, err := MeanAll(t)
	if err != nil {
		return nil, err
	}
	op := &meanAllOp{opBase{inputs: []*Tensor{t}}}
	return attach(out, op, op.inputs), nil
}

type selectOp struct {
	opBase
	dim   int
	index int
}

func (op *selectOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	src := op.inputs[0]
	g, err := Zeros(src.Shape, Float32)
	if err != nil {
		return nil, err
	}
	gData := g.Data.([]float32)
	gOut := gradOut.Data.([]float32)

	n := src.Shape[op.dim]
	stride := src.Strides[op.dim]
	outer := src.NumElems / n
	for lane := 0; lane < outer; lane++ {
		base := laneOffset(lane, op.dim, src.Shape, src.Strides)
		gData[base+op.index*stride] = gOut[lane]
	}
	return []*Tensor{g}, nil
}

// SelectAutograd indexes a single slice along dim, removing that axis.
func SelectAutograd(t *Tensor, dim, index int) (*Tensor, error) {
	if t.DType != Float32 {
		return nil, fmt.Errorf("Select only supports Float32, got %s", t.DType)
	}
	if dim < 0 || dim >= len(t.Shape) {
		return nil, fmt.Errorf("dim %d out of range for shape %v", dim, t.Shape)
	}
	if index < 0 || index >= t.Shape[dim] {
		return nil, fmt.Errorf("index %d out of range for dim %d of size %d", index, dim, t.Shape[dim])
	}

	n := t.Shape[dim]
	stride := t.Strides[dim]
	outer := t.NumElems / n

	outShape := make([]int, 0, len(t.Shape))
	for i, s := range t.Shape {
		if i != dim {
			outShape = append(outShape, s)
		}
	}
	if len(outShape) == 0 {
		outShape = []int{1}
	}

	out, err := Zeros(outShape, Float32)
	if err != nil {
		return nil, err
	}
	src := t.Data.([]float32)
	dst := out.Data.([]float32)
	for lane := 0; lane < outer; lane++ {
		base := laneOffset(lane, dim, t.Shape, t.Strides)
		dst[lane] = src[base+index*stride]
	}

	op := &selectOp{opBase: opBase{inputs: []*Tensor{t}}, dim: dim, index: index}
	return attach(out, op, op.inputs), nil
}

// ---- activations ----

type softmaxOp struct {
	opBase
	dim    int
	output *Tensor
}

func (op *softmaxOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	s := op.output.Data.([]float32)
	gOut := gradOut.Data.([]float32)

	g, err := Zeros(op.output.Shape, Float32)
	if err != nil {
		return nil, err
	}
	gData := g.Data.([]float32)

	shape := op.output.Shape
	strides := op.output.Strides
	n := shape[op.dim]
	stride := strides[op.dim]
	outer := op.output.NumElems / n
	for lane := 0; lane < outer; lane++ {
		base := laneOffset(lane, op.dim, shape, strides)
		var dot float32
		for j := 0; j < n; j++ {
			idx := base + j*stride
			dot += gOut[idx] * s[idx]
		}
		for j := 0; j < n; j++ {
			idx := base + j*stride
			gData[idx] = s[idx] * (gOut[idx] - dot)
		}
	}
	return []*Tensor{g}, nil
}

func SoftmaxAutograd(t *Tensor, dim int) (*Tensor, error) {
	out, err := Softmax(t, dim)
	if err != nil {
		return nil, err
	}
	op := &softmaxOp{opBase: opBase{inputs: []*Tensor{t}}, dim: dim, output: out}
	return attach(out, op, op.inputs), nil
}

type sigmoidOp struct {
	opBase
	output *Tensor
}

func (op *sigmoidOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	s := op.output.Data.([]float32)
	gOut := gradOut.Data.([]float32)
	g, err := Zeros(op.output.Shape, Float32)
	if err != nil {
		return nil, err
	}
	gData := g.Data.([]float32)
	for i := range gData {
		gData[i] = gOut[i] * s[i] * (1 - s[i])
	}
	return []*Tensor{g}, nil
}

func SigmoidAutograd(t *Tensor) (*Tensor, error) {
	out, err := Sigmoid(t)
	if err != nil {
		return nil, err
	}
	op := &sigmoidOp{opBase: opBase{inputs: []*Tensor{t}}, output: out}
	return attach(out, op, op.inputs), nil
}

type reluOp struct{ opBase }

func (op *reluOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	in := op.inputs[0].Data.([]float32)
	g, err := gradOut.Clone()
	if err != nil {
		return nil, err
	}
	gData := g.Data.([]float32)
	for i := range gData {
		if in[i] <= 0 {
			gData[i] = 0
		}
	}
	return []*Tensor{g}, nil
}

func ReLUAutograd(t *Tensor) (*Tensor, error) {
	out, err := ReLU(t)
	if err != nil {
		return nil, err
	}
	op := &reluOp{opBase{inputs: []*Tensor{t}}}
	return attach(out, op, op.inputs), nil
}

// ---- losses ----

type bceWithLogitsOp struct{ opBase }

func (op *bceWithLogitsOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	x := op.inputs[0].Data.([]float32)
	t := op.inputs[1].Data.([]float32)
	g0 := gradOut.Data.([]float32)[0]

	g, err := Zeros(op.inputs[0].Shape, Float32)
	if err != nil {
		return nil, err
	}
	gData := g.Data.([]float32)
	n := float32(len(x))
	for i := range gData {
		s := float32(1.0 / (1.0 + math.Exp(-float64(x[i]))))
		gData[i] = g0 * (s - t[i]) / n
	}
	return []*Tensor{g, nil}, nil
}

// BCEWithLogitsAutograd computes mean binary cross-entropy over all elements
// using the numerically stable log-sum-exp form. Gradient flows to the
// logits only.
func BCEWithLogitsAutograd(logits, target *Tensor) (*Tensor, error) {
	if !shapesEqual(logits.Shape, target.Shape) {
		return nil, fmt.Errorf("logits shape %v does not match target shape %v", logits.Shape, target.Shape)
	}
	x, err := logits.GetFloat32Data()
	if err != nil {
		return nil, err
	}
	t, err := target.GetFloat32Data()
	if err != nil {
		return nil, err
	}

	var total float64
	for i := range x {
		xi := float64(x[i])
		// max(x,0) - x*t + log(1 + exp(-|x|))
		total += math.Max(xi, 0) - xi*float64(t[i]) + math.Log1p(math.Exp(-math.Abs(xi)))
	}
	out, err := NewTensor([]int{1}, Float32, []float32{float32(total / float64(len(x)))})
	if err != nil {
		return nil, err
	}
	op := &bceWithLogitsOp{opBase{inputs: []*Tensor{logits, target}}}
	return attach(out, op, op.inputs), nil
}
