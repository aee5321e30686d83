package datagen

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// DenseMixedEndo has continuous and binary informative covariates, a dense
// linear control surface, a linear plus pairwise-interaction effect and a
// treatment assignment driven by the first TImp covariates.
type DenseMixedEndo struct {
	ContImp, DiscImp     int
	ContUnimp, DiscUnimp int
	Std                  float64
	TImp                 int
	Overlap              float64
}

func (DenseMixedEndo) Name() string { return "dense_mixed_endo" }

func (g DenseMixedEndo) Generate(n int, seed uint64) (*Sample, error) {
	if err := checkSize(n); err != nil {
		return nil, err
	}
	d := newDraws(seed)
	coin := distuv.Bernoulli{P: 0.5, Src: d.src}

	x := hstack(d.matrix(n, g.ContImp, d.normal(1, g.Std)), d.matrix(n, g.DiscImp, coin))
	p := g.ContImp + g.DiscImp
	e0 := d.normal(0, 1)
	e1 := d.normal(0, 1)

	beta := make([]float64, p)
	for j := range beta {
		beta[j] = d.normal(d.sign()*10, 9).Rand()
	}
	gamma := make([]float64, p)
	eff := d.normal(1, 0.25)
	for j := range gamma {
		gamma[j] = eff.Rand()
	}

	second := 0.5
	if g.ContImp >= 2 {
		second = 1
	}
	second *= float64(g.TImp)
	overlap := d.normal(0, g.Overlap)

	mu0 := make([]float64, n)
	mu1 := make([]float64, n)
	noise0 := make([]float64, n)
	noise1 := make([]float64, n)
	t := make([]float64, n)
	for i, row := range x {
		mu0[i] = floats.Dot(row, beta)
		inter := 0.0
		for a := 0; a < p; a++ {
			for b := a + 1; b < p; b++ {
				inter += row[a] * row[b]
			}
		}
		mu1[i] = mu0[i] + floats.Dot(row, gamma) + inter
		noise0[i] = e0.Rand()
		noise1[i] = e1.Rand()
		if expit(floats.Sum(row[:min(g.TImp, p)])-second+overlap.Rand()) > 0.5 {
			t[i] = 1
		}
	}

	x = hstack(x, d.matrix(n, g.ContUnimp, d.normal(1, g.Std)), d.matrix(n, g.DiscUnimp, coin))
	names := columnNames(len(x[0]))
	var binary []string
	binary = append(binary, names[g.ContImp:p]...)
	binary = append(binary, names[p+g.ContUnimp:]...)
	return assemble(x, mu0, mu1, noise0, noise1, t, binary)
}

// Friedman uses ten uniform covariates and the Friedman regression surface.
type Friedman struct{}

func (Friedman) Name() string { return "friedman" }

func (Friedman) Generate(n int, seed uint64) (*Sample, error) {
	if err := checkSize(n); err != nil {
		return nil, err
	}
	d := newDraws(seed)
	x := d.matrix(n, 10, distuv.Uniform{Min: 0, Max: 1, Src: d.src})
	std := d.normal(0, 1)

	mu0 := make([]float64, n)
	mu1 := make([]float64, n)
	e0 := make([]float64, n)
	e1 := make([]float64, n)
	t := make([]float64, n)
	for i, r := range x {
		base := 10*math.Sin(math.Pi*r[0]*r[1]) + 20*(r[2]-0.5)*(r[2]-0.5) + 10*r[3] + 5*r[4]
		mu0[i] = base
		mu1[i] = base + r[2]*math.Cos(math.Pi*r[0]*r[1])
		e0[i], e1[i] = std.Rand(), std.Rand()
		if expit(r[0]+r[1]-0.5+std.Rand()) > 0.5 {
			t[i] = 1
		}
	}
	return assemble(x, mu0, mu1, e0, e1, t, nil)
}

// projected draws standard normal informative and noise covariates and a
// random unit direction u over the informative ones.
func projected(d *draws, n, informative, noise int) (x [][]float64, u []float64, t []float64) {
	std := d.normal(0, 1)
	xImp := d.matrix(n, informative, std)
	dir := d.unitDirection(informative)
	u = make([]float64, n)
	t = make([]float64, n)
	for i, row := range xImp {
		u[i] = floats.Dot(row, dir)
		z := row[0] + std.Rand()
		if informative > 1 {
			z += row[1]
		}
		if expit(z) > 0.5 {
			t[i] = 1
		}
	}
	return hstack(xImp, d.matrix(n, noise, std)), u, t
}

func smallNoise(d *draws, n int) ([]float64, []float64) {
	e := d.normal(0, 0.04)
	e0 := make([]float64, n)
	e1 := make([]float64, n)
	for i := range e0 {
		e0[i], e1[i] = e.Rand(), e.Rand()
	}
	return e0, e1
}

// Sine has outcomes that are sums of sines of a random projection.
type Sine struct {
	Informative, Noise int
}

func (Sine) Name() string { return "sine" }

func (g Sine) Generate(n int, seed uint64) (*Sample, error) {
	if err := checkSize(n); err != nil {
		return nil, err
	}
	d := newDraws(seed)
	x, u, t := projected(d, n, g.Informative, g.Noise)
	mu0 := make([]float64, n)
	mu1 := make([]float64, n)
	for i, v := range u {
		s := math.Sin(v) + math.Sin(2*v) + math.Sin(3*v) + math.Sin(4*v) + 1
		mu0[i] = s
		mu1[i] = s + math.Sin(5*v)
	}
	e0, e1 := smallNoise(d, n)
	return assemble(x, mu0, mu1, e0, e1, t, nil)
}

// Polynomials has polynomial outcomes of a random projection.
type Polynomials struct {
	Informative, Noise int
}

func (Polynomials) Name() string { return "polynomials" }

func (g Polynomials) Generate(n int, seed uint64) (*Sample, error) {
	if err := checkSize(n); err != nil {
		return nil, err
	}
	d := newDraws(seed)
	x, u, t := projected(d, n, g.Informative, g.Noise)
	mu0 := make([]float64, n)
	mu1 := make([]float64, n)
	for i, v := range u {
		mu0[i] = math.Pow(v, 3) + math.Pow(v, 4) + 1
		mu1[i] = mu0[i] + math.Pow(v, 5)
	}
	e0, e1 := smallNoise(d, n)
	return assemble(x, mu0, mu1, e0, e1, t, nil)
}

// LinearEffect draws N(1, 2^2) covariates, a control outcome equal to the
// sum of the informative covariates, an effect equal to X0 and a fair coin
// treatment.
type LinearEffect struct {
	Informative, Noise int
	NoiseSD            float64
}

func (LinearEffect) Name() string { return "linear_effect" }

func (g LinearEffect) Generate(n int, seed uint64) (*Sample, error) {
	if err := checkSize(n); err != nil {
		return nil, err
	}
	d := newDraws(seed)
	x := d.matrix(n, g.Informative+g.Noise, d.normal(1, 2))
	coin := distuv.Bernoulli{P: 0.5, Src: d.src}

	mu0 := make([]float64, n)
	mu1 := make([]float64, n)
	e0 := make([]float64, n)
	e1 := make([]float64, n)
	t := make([]float64, n)
	var noise distuv.Normal
	if g.NoiseSD > 0 {
		noise = d.normal(0, g.NoiseSD)
	}
	for i, row := range x {
		mu0[i] = floats.Sum(row[:g.Informative])
		mu1[i] = mu0[i] + row[0]
		if g.NoiseSD > 0 {
			e0[i], e1[i] = noise.Rand(), noise.Rand()
		}
		t[i] = coin.Rand()
	}
	return assemble(x, mu0, mu1, e0, e1, t, nil)
}

// NonLinearMixed mixes a cosine and a sigmoid of a random projection u in
// the control outcome. The effect is -u^3.
type NonLinearMixed struct {
	Informative, Noise int
}

func (NonLinearMixed) Name() string { return "non_linear_mixed" }

func (g NonLinearMixed) Generate(n int, seed uint64) (*Sample, error) {
	if err := checkSize(n); err != nil {
		return nil, err
	}
	d := newDraws(seed)
	x, u, t := projected(d, n, g.Informative, g.Noise)
	mu0 := make([]float64, n)
	mu1 := make([]float64, n)
	for i, v := range u {
		mu0[i] = math.Cos(v) + expit(v) - 2
		mu1[i] = mu0[i] - v*v*v
	}
	e0, e1 := smallNoise(d, n)
	return assemble(x, mu0, mu1, e0, e1, t, nil)
}

// PolyNoInteraction draws U(-2, 2) covariates and signed squares with no
// cross terms. A random half of the informative covariates carry a signed
// squared effect. Treatment is a fair coin and the noise is 3% of the
// outcome spread.
type PolyNoInteraction struct {
	Informative, Noise int
}

func (PolyNoInteraction) Name() string { return "poly_no_interaction" }

func (g PolyNoInteraction) Generate(n int, seed uint64) (*Sample, error) {
	if err := checkSize(n); err != nil {
		return nil, err
	}
	d := newDraws(seed)
	unif := distuv.Uniform{Min: -2, Max: 2, Src: d.src}
	coin := distuv.Bernoulli{P: 0.5, Src: d.src}
	xImp := d.matrix(n, g.Informative, unif)

	active := make([]float64, g.Informative)
	sign := make([]float64, g.Informative)
	effSign := make([]float64, g.Informative)
	for j := range active {
		active[j] = coin.Rand()
	}
	t := make([]float64, n)
	for i := range t {
		t[i] = coin.Rand()
	}
	for j := range sign {
		sign[j] = d.sign()
	}
	for j := range effSign {
		effSign[j] = d.sign()
	}

	mu0 := make([]float64, n)
	mu1 := make([]float64, n)
	for i, row := range xImp {
		var base, eff float64
		for j, v := range row {
			base += sign[j] * v * v
			a := v * active[j]
			eff += effSign[j] * a * a
		}
		mu0[i] = base
		mu1[i] = base + eff
	}
	e0 := d.column(n, d.normal(0, 0.03*stat.PopStdDev(mu0, nil)))
	e1 := d.column(n, d.normal(0, 0.03*stat.PopStdDev(mu1, nil)))
	x := hstack(xImp, d.matrix(n, g.Noise, unif))
	return assemble(x, mu0, mu1, e0, e1, t, nil)
}

// polyInteractionEffectSigns are the signs of the cubic treatment effect of
// the first informative covariates. Later covariates carry none.
var polyInteractionEffectSigns = []float64{1, -1, 1}

// PolyInteraction draws U(0, 5) covariates and signed cubes plus random
// pairwise products. Each pair enters the control outcome, the effect, both
// or neither. Treatment is a fair coin.
type PolyInteraction struct {
	Informative, Noise int
}

func (PolyInteraction) Name() string { return "poly_interaction" }

func (g PolyInteraction) Generate(n int, seed uint64) (*Sample, error) {
	if err := checkSize(n); err != nil {
		return nil, err
	}
	d := newDraws(seed)
	unif := distuv.Uniform{Min: 0, Max: 5, Src: d.src}
	coin := distuv.Bernoulli{P: 0.5, Src: d.src}
	p := g.Informative
	xImp := d.matrix(n, p, unif)

	type pair struct {
		a, b          int
		sign          float64
		inBase, inEff float64
	}
	var pairs []pair
	for a := 0; a < p; a++ {
		for b := a + 1; b < p; b++ {
			inBase, inEff := coin.Rand(), coin.Rand()
			pairs = append(pairs, pair{a: a, b: b, sign: d.sign(), inBase: inBase, inEff: inEff})
		}
	}
	t := make([]float64, n)
	for i := range t {
		t[i] = coin.Rand()
	}
	sign := make([]float64, p)
	for j := range sign {
		sign[j] = d.sign()
	}

	mu0 := make([]float64, n)
	mu1 := make([]float64, n)
	for i, row := range xImp {
		var base, eff float64
		for j, v := range row {
			cube := v * v * v
			base += sign[j] * cube
			if j < len(polyInteractionEffectSigns) {
				eff += polyInteractionEffectSigns[j] * cube
			}
		}
		for _, pr := range pairs {
			prod := pr.sign * row[pr.a] * row[pr.b]
			base += pr.inBase * prod
			eff += pr.inEff * prod
		}
		mu0[i] = base
		mu1[i] = base + eff
	}
	std := d.normal(0, 1)
	e0 := d.column(n, std)
	e1 := d.column(n, std)
	x := hstack(xImp, d.matrix(n, g.Noise, unif))
	return assemble(x, mu0, mu1, e0, e1, t, nil)
}
