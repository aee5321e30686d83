// Package datagen draws synthetic observational datasets with known
// potential outcomes, for simulation runs and tests.
package datagen

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"github.com/23skdu/lcm/internal/dataset"
	lcmerrors "github.com/23skdu/lcm/internal/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"
)

// Sample is a generated dataset plus the quantities a real study never sees.
type Sample struct {
	Data *dataset.Dataset
	// Y0 and Y1 are the noisy potential outcomes.
	Y0, Y1 []float64
	// Mu0 and Mu1 are the noise-free potential outcomes.
	Mu0, Mu1 []float64
	// Effect is Mu1 - Mu0.
	Effect []float64
	// Binary lists the covariates drawn from {0, 1}.
	Binary []string
}

// Generator draws n units from a fixed data generating process.
type Generator interface {
	Name() string
	Generate(n int, seed uint64) (*Sample, error)
}

// Params are the size knobs shared by the generators.
type Params struct {
	Informative int
	Noise       int
}

var registry = map[string]func(Params) Generator{
	"dense_mixed_endo": func(p Params) Generator {
		return DenseMixedEndo{ContImp: p.Informative, ContUnimp: p.Noise, Std: 1.5, TImp: 2, Overlap: 1}
	},
	"friedman":      func(Params) Generator { return Friedman{} },
	"sine":          func(p Params) Generator { return Sine{Informative: p.Informative, Noise: p.Noise} },
	"polynomials":   func(p Params) Generator { return Polynomials{Informative: p.Informative, Noise: p.Noise} },
	"linear_effect": func(p Params) Generator { return LinearEffect{Informative: p.Informative, Noise: p.Noise, NoiseSD: 0.1} },
	"non_linear_mixed": func(p Params) Generator {
		return NonLinearMixed{Informative: p.Informative, Noise: p.Noise}
	},
	"poly_no_interaction": func(p Params) Generator {
		return PolyNoInteraction{Informative: p.Informative, Noise: p.Noise}
	},
	"poly_interaction": func(p Params) Generator {
		return PolyInteraction{Informative: p.Informative, Noise: p.Noise}
	},
}

// Names lists the registered generators.
func Names() []string {
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// ByName resolves a registered generator.
func ByName(name string, p Params) (Generator, error) {
	mk, ok := registry[name]
	if !ok {
		return nil, lcmerrors.NewConfigurationError("datagen.ByName",
			fmt.Sprintf("unknown data generating process %q, want one of %v", name, Names()))
	}
	if p.Informative < 1 && name != "friedman" {
		return nil, lcmerrors.NewConfigurationError("datagen.ByName", "at least one informative covariate is required")
	}
	return mk(p), nil
}

// draws bundles the samplers of one generation so that every draw comes from
// the same seeded stream.
type draws struct {
	src *rand.PCG
	rng *rand.Rand
}

func newDraws(seed uint64) *draws {
	src := rand.NewPCG(seed, 0x9e3779b97f4a7c15)
	return &draws{src: src, rng: rand.New(src)}
}

func (d *draws) normal(mu, sigma float64) distuv.Normal {
	return distuv.Normal{Mu: mu, Sigma: sigma, Src: d.src}
}

func (d *draws) matrix(n, p int, dist interface{ Rand() float64 }) [][]float64 {
	out := make([][]float64, n)
	for i := range out {
		row := make([]float64, p)
		for j := range row {
			row[j] = dist.Rand()
		}
		out[i] = row
	}
	return out
}

func (d *draws) column(n int, dist interface{ Rand() float64 }) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = dist.Rand()
	}
	return out
}

func (d *draws) sign() float64 {
	if d.rng.IntN(2) == 0 {
		return -1
	}
	return 1
}

// unitDirection is a random direction with entries ±N(10, 9), normalised.
func (d *draws) unitDirection(p int) []float64 {
	w := make([]float64, p)
	n := d.normal(10, 9)
	for j := range w {
		w[j] = d.sign() * n.Rand()
	}
	if norm := floats.Norm(w, 2); norm > 0 {
		floats.Scale(1/norm, w)
	}
	return w
}

func expit(x float64) float64 { return 1 / (1 + math.Exp(-x)) }

func hstack(blocks ...[][]float64) [][]float64 {
	n := len(blocks[0])
	out := make([][]float64, n)
	for i := range out {
		for _, b := range blocks {
			out[i] = append(out[i], b[i]...)
		}
	}
	return out
}

func columnNames(p int) []string {
	out := make([]string, p)
	for j := range out {
		out[j] = fmt.Sprintf("X%d", j)
	}
	return out
}

// assemble builds the Sample from covariates, noise-free outcomes, noise
// draws and the treatment vector.
func assemble(x [][]float64, mu0, mu1, e0, e1, t []float64, binary []string) (*Sample, error) {
	n := len(x)
	s := &Sample{
		Y0:     make([]float64, n),
		Y1:     make([]float64, n),
		Mu0:    mu0,
		Mu1:    mu1,
		Effect: make([]float64, n),
		Binary: binary,
	}
	y := make([]float64, n)
	for i := range x {
		s.Y0[i] = mu0[i] + e0[i]
		s.Y1[i] = mu1[i] + e1[i]
		s.Effect[i] = mu1[i] - mu0[i]
		y[i] = s.Y0[i]
		if t[i] == 1 {
			y[i] = s.Y1[i]
		}
	}
	p := 0
	if n > 0 {
		p = len(x[0])
	}
	ds, err := dataset.New(columnNames(p), x, t, y, nil)
	if err != nil {
		return nil, err
	}
	s.Data = ds
	return s, nil
}

func checkSize(n int) error {
	if n < 2 {
		return lcmerrors.NewConfigurationError("datagen.Generate", fmt.Sprintf("need at least 2 units, got %d", n))
	}
	return nil
}
