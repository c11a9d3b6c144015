package solver

import (
	"errors"
	"math"
	"testing"

	"github.com/san-kum/pinnflow/internal/geometry"
	"github.com/san-kum/pinnflow/internal/nn"
	"github.com/san-kum/pinnflow/internal/pde"
	"github.com/san-kum/pinnflow/internal/tensor"
)

func testProblem(t *testing.T, opts Options) *Program {
	t.Helper()
	interior := tensor.FromRows([][]float64{
		{0.1, 0.2, 0.0}, {0.3, -0.1, 0.1}, {-0.2, 0.4, 0.2}, {0.5, 0.5, -0.1}, {0.0, -0.3, 0.3},
	})
	left := tensor.FromRows([][]float64{{-1, 0, 0}, {-1, 0.5, 0.1}})
	geo, err := geometry.NewDiscretized(interior, []geometry.Subset{{Name: "left", Points: left}})
	if err != nil {
		t.Fatal(err)
	}
	geo, err = geo.WithUser(tensor.FromRows([][]float64{{0.2, 0.1, 0.0}, {0.4, 0.3, 0.1}, {-0.1, -0.2, 0.2}}))
	if err != nil {
		t.Fatal(err)
	}

	ns := pde.NewNavierStokes(0.01, 1, 3, true, [4]float64{1, 1, 1, 1})
	ns.AddBC("left",
		pde.Dirichlet{Field: "u", RHS: 1, Weight: 1},
		pde.Dirichlet{Field: "v", RHS: 0, Weight: 1},
	)
	d, err := ns.Discretize(pde.Implicit, 1, geo)
	if err != nil {
		t.Fatal(err)
	}
	net, err := nn.New(nn.Config{NumIns: 3, NumOuts: 4, NumLayers: 3, HiddenSize: 6, Activation: nn.Tanh}, 7)
	if err != nil {
		t.Fatal(err)
	}
	p, err := Compile(d, net, nn.NewAdam(1e-3), MarchingLayout(), opts)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	return p
}

func testFeeds(t *testing.T, p *Program) FeedDict {
	t.Helper()
	labels, err := p.NewLabels()
	if err != nil {
		t.Fatal(err)
	}
	user := p.Geometry().User().Len()
	next := tensor.New(user, 4)
	cur := tensor.New(user, 3)
	for i := 0; i < user; i++ {
		for j := 0; j < 4; j++ {
			next.Set(i, j, 0.1*float64(i+j))
		}
		for j := 0; j < 3; j++ {
			cur.Set(i, j, 0.05*float64(i-j))
		}
	}
	if err := labels.SetUserNext(next); err != nil {
		t.Fatal(err)
	}
	if err := labels.SetUserCurrent(cur); err != nil {
		t.Fatal(err)
	}
	feeds := p.InputFeeds()
	if err := p.FeedLabels(feeds, labels); err != nil {
		t.Fatal(err)
	}
	return feeds
}

func TestLayout_Validate(t *testing.T) {
	if err := MarchingLayout().Validate(); err != nil {
		t.Fatalf("marching layout rejected: %v", err)
	}

	tests := []struct {
		name   string
		layout Layout
	}{
		{"missing next", Layout{Slots: MarchingLayout().Slots[:1]}},
		{"next without pressure", Layout{Slots: []Slot{
			{Subset: geometry.InteriorName, Fields: pde.Velocity, Step: Current},
			{Subset: geometry.UserName, Fields: pde.Velocity, Step: Next},
			{Subset: geometry.UserName, Fields: pde.Velocity, Step: Current},
		}}},
		{"duplicate slot", Layout{Slots: append(MarchingLayout().Slots, MarchingLayout().Slots[0])}},
		{"unknown field", Layout{Slots: []Slot{
			{Subset: geometry.InteriorName, Fields: []string{"T"}, Step: Current},
		}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.layout.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLabels_ShapeMismatch(t *testing.T) {
	p := testProblem(t, DefaultOptions())
	labels, err := p.NewLabels()
	if err != nil {
		t.Fatal(err)
	}
	if labels.Len() != 3 {
		t.Fatalf("expected 3 label arrays, got %d", labels.Len())
	}
	if got := labels.At(0).Shape; got[0] != 5 || got[1] != 3 {
		t.Errorf("interior label shape %v, want [5 3]", got)
	}
	err = labels.SetUserNext(tensor.New(3, 3))
	if !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("expected ErrShapeMismatch, got %v", err)
	}
}

func TestDataParallelPartition(t *testing.T) {
	a := tensor.New(7, 2)
	for i := range a.Data {
		a.Data[i] = float64(i)
	}
	for _, nranks := range []int{1, 2, 3, 7} {
		var rows []tensor.Array
		total := 0
		for r := 0; r < nranks; r++ {
			shards, err := DataParallelPartition([]tensor.Array{a}, r, nranks)
			if err != nil {
				t.Fatal(err)
			}
			total += shards[0].Len()
			rows = append(rows, shards[0])
		}
		if total != 7 {
			t.Errorf("nranks=%d: shards cover %d rows, want 7", nranks, total)
		}
		joined, err := tensor.VStack(rows...)
		if err != nil {
			t.Fatal(err)
		}
		if !joined.Equal(a) {
			t.Errorf("nranks=%d: shards do not reassemble the input", nranks)
		}
	}

	if _, err := DataParallelPartition([]tensor.Array{a}, 2, 2); err == nil {
		t.Error("expected error for rank out of range")
	}
}

func TestCompile_Placeholders(t *testing.T) {
	p := testProblem(t, DefaultOptions())
	if p.NumInputs() != 3 {
		t.Fatalf("expected 3 inputs (interior, left, user), got %d", p.NumInputs())
	}
	want := map[string][]int{
		"input0": {5, 3},
		"input1": {2, 3},
		"input2": {3, 3},
		"label0": {5, 3},
		"label1": {3, 4},
		"label2": {3, 3},
	}
	for name, shape := range want {
		got, ok := p.Placeholder(name)
		if !ok {
			t.Errorf("placeholder %s missing", name)
			continue
		}
		if got[0] != shape[0] || got[1] != shape[1] {
			t.Errorf("placeholder %s: got %v, want %v", name, got, shape)
		}
	}
}

func TestCompile_ShardedPlaceholders(t *testing.T) {
	opts := DefaultOptions()
	opts.Rank, opts.NRanks = 1, 2
	p := testProblem(t, opts)
	got, _ := p.Placeholder("input0")
	if got[0] != 3 {
		t.Errorf("rank 1 of 2 holds %d interior rows, want 3", got[0])
	}
	lo, hi, ok := p.ShardRange(geometry.InteriorName)
	if !ok || lo != 2 || hi != 5 {
		t.Errorf("interior shard range [%d,%d), want [2,5)", lo, hi)
	}
}

func TestExecutor_ShapeMismatch(t *testing.T) {
	p := testProblem(t, DefaultOptions())
	feeds := testFeeds(t, p)
	feeds[LabelName(1)] = tensor.New(3, 3)

	ex := NewExecutor(p)
	_, err := ex.Run(feeds)
	if !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("expected ErrShapeMismatch, got %v", err)
	}
	if ex.Steps() != 0 {
		t.Error("a rejected run must not step the optimizer")
	}

	delete(feeds, LabelName(1))
	if _, err := ex.Run(feeds); err == nil {
		t.Error("expected error for missing feed")
	}
}

func TestExecutor_LossComposition(t *testing.T) {
	p := testProblem(t, DefaultOptions())
	feeds := testFeeds(t, p)

	fetch, err := NewExecutor(p).Run(feeds)
	if err != nil {
		t.Fatal(err)
	}
	tm := fetch.Terms
	for name, v := range map[string]float64{"bc": tm.BC, "eq_interior": tm.EqInterior, "eq_user": tm.EqUser, "data": tm.Data} {
		if v <= 0 {
			t.Errorf("%s term should be positive, got %g", name, v)
		}
	}
	want := math.Sqrt(tm.BC + tm.EqInterior + tm.EqUser + 100*tm.Data)
	if math.Abs(fetch.Loss-want) > 1e-12*want {
		t.Errorf("loss %g, want sqrt(bc+eq+eq+100*data) = %g", fetch.Loss, want)
	}

	if len(fetch.Outputs) != 3 {
		t.Fatalf("expected one output per subset, got %d", len(fetch.Outputs))
	}
	for i, n := range []int{5, 2, 3} {
		if fetch.Outputs[i].Len() != n || fetch.Outputs[i].Cols() != 4 {
			t.Errorf("output %d has shape %v", i, fetch.Outputs[i].Shape)
		}
	}
}

func TestExecutor_DataWeight(t *testing.T) {
	opts := DefaultOptions()
	opts.DataWeight = 0
	p := testProblem(t, opts)
	fetch, err := NewExecutor(p).Run(testFeeds(t, p))
	if err != nil {
		t.Fatal(err)
	}
	tm := fetch.Terms
	want := math.Sqrt(tm.BC + tm.EqInterior + tm.EqUser)
	if math.Abs(fetch.Loss-want) > 1e-12*want {
		t.Errorf("with zero data weight loss %g, want %g", fetch.Loss, want)
	}
}

func TestEvaluate_GradientMatchesFiniteDifference(t *testing.T) {
	opts := DefaultOptions()
	opts.FDStep = 1e-2
	p := testProblem(t, opts)
	feeds := testFeeds(t, p)

	_, grads := p.evaluate(feeds)
	net := p.Network()
	const eps = 1e-6

	check := func(name string, analytic float64, get func() float64, set func(float64)) {
		orig := get()
		set(orig + eps)
		up, _ := p.evaluate(feeds)
		set(orig - eps)
		down, _ := p.evaluate(feeds)
		set(orig)
		numeric := (up.Loss - down.Loss) / (2 * eps)
		if math.Abs(numeric-analytic) > 1e-4*math.Max(1, math.Abs(numeric)) {
			t.Errorf("%s: analytic %g, numeric %g", name, analytic, numeric)
		}
	}

	for l := range net.Weights {
		w := net.Weights[l]
		check("weight", grads.Weights[l].At(0, 0),
			func() float64 { return w.At(0, 0) },
			func(v float64) { w.Set(0, 0, v) })
		b := net.Biases[l]
		check("bias", grads.Biases[l][0],
			func() float64 { return b[0] },
			func(v float64) { b[0] = v })
	}
}

func TestExecutor_ReducesLoss(t *testing.T) {
	p := testProblem(t, DefaultOptions())
	p.opt.LR = 1e-2
	feeds := testFeeds(t, p)
	ex := NewExecutor(p)

	first, err := ex.Run(feeds)
	if err != nil {
		t.Fatal(err)
	}
	var last *Fetch
	for i := 0; i < 100; i++ {
		if last, err = ex.Run(feeds); err != nil {
			t.Fatal(err)
		}
	}
	if ex.Steps() != 101 {
		t.Errorf("expected 101 steps, got %d", ex.Steps())
	}
	if last.Loss >= first.Loss {
		t.Errorf("loss did not decrease: %g -> %g", first.Loss, last.Loss)
	}
}
