package vae

import (
	"fmt"
	"strings"

	"github.com/awalterschulze/gographviz"
	"github.com/pkg/errors"
)

// dot appends this stack's layers to the graph, chained from the given
// node id, and returns the id of the last node added.
func (s *Stack) dot(g *gographviz.Graph, from string) string {
	prev := from
	for i := range s.layers {
		id := fmt.Sprintf("%s_%d", s.name, i)
		parts := []string{}
		if i > 0 {
			parts = append(parts, s.act.String())
		}
		parts = append(parts, fmt.Sprintf("linear %dx%d", s.dims[i], s.dims[i+1]))
		if s.layers[i].norm != nil {
			parts = append(parts, "layernorm")
		}
		if i == len(s.layers)-1 && s.outAct {
			parts = append(parts, s.act.String())
		}
		g.AddNode("G", id, map[string]string{
			"fontname": "Monaco",
			"shape":    "box",
			"label":    fmt.Sprintf("%q", strings.Join(parts, ", ")),
		})
		g.AddEdge(prev, id, true, nil)
		prev = id
	}
	return prev
}

// ToDot renders the architecture as a graphviz document: inputs,
// encoder stacks, the latent split and sample, decoder stack, outputs.
func (v *VAE) ToDot() (string, error) {
	enc, ok := v.Encoder.(*Encoder)
	if !ok {
		return "", errors.Errorf("dot: unsupported encoder variant %T", v.Encoder)
	}

	g := gographviz.NewGraph()
	if err := g.SetName("G"); err != nil {
		return "", errors.WithStack(err)
	}
	g.SetDir(true)

	node := func(id, label, shape string) {
		g.AddNode("G", id, map[string]string{
			"fontname": "Monaco",
			"shape":    shape,
			"label":    fmt.Sprintf("%q", label),
		})
	}

	node("obs", fmt.Sprintf("obs [%d]", v.ObsDim), "ellipse")
	node("act", fmt.Sprintf("act [%d]", v.ActDim), "ellipse")
	node("rew", fmt.Sprintf("rew [%d]", v.RewDim), "ellipse")
	node("eps", "eps ~ N(0, 1)", "ellipse")

	node("enc_concat", "concat", "box")
	g.AddEdge("obs", "enc_concat", true, nil)
	g.AddEdge("act", "enc_concat", true, nil)
	g.AddEdge("rew", "enc_concat", true, nil)

	last := enc.input.dot(g, "enc_concat")
	last = enc.output.dot(g, last)

	node("mean", fmt.Sprintf("mean [%d]", v.TaskEmbDim), "ellipse")
	node("logvar", fmt.Sprintf("logvar [%d]", v.TaskEmbDim), "ellipse")
	g.AddEdge(last, "mean", true, nil)
	g.AddEdge(last, "logvar", true, nil)

	node("z", "z = mean + eps * exp(logvar / 2)", "box")
	g.AddEdge("mean", "z", true, nil)
	g.AddEdge("logvar", "z", true, nil)
	g.AddEdge("eps", "z", true, nil)

	node("dec_concat", "concat", "box")
	g.AddEdge("z", "dec_concat", true, nil)
	g.AddEdge("obs", "dec_concat", true, nil)
	g.AddEdge("act", "dec_concat", true, nil)

	last = v.Decoder.stack.dot(g, "dec_concat")

	node("next_obs", fmt.Sprintf("next_obs [%d]", v.ObsDim), "ellipse")
	node("reward", fmt.Sprintf("reward [%d]", v.RewDim), "ellipse")
	g.AddEdge(last, "next_obs", true, nil)
	g.AddEdge(last, "reward", true, nil)

	return g.String(), nil
}

// ToDot renders the query encoder as a graphviz document.
func (q *QueryEncoder) ToDot() (string, error) {
	g := gographviz.NewGraph()
	if err := g.SetName("G"); err != nil {
		return "", errors.WithStack(err)
	}
	g.SetDir(true)

	node := func(id, label, shape string) {
		g.AddNode("G", id, map[string]string{
			"fontname": "Monaco",
			"shape":    shape,
			"label":    fmt.Sprintf("%q", label),
		})
	}

	node("obs", fmt.Sprintf("obs [%d]", q.ObsDim), "ellipse")
	node("act", fmt.Sprintf("act [%d]", q.ActDim), "ellipse")
	node("q_concat", "concat", "box")
	g.AddEdge("obs", "q_concat", true, nil)
	g.AddEdge("act", "q_concat", true, nil)

	last := q.stack.dot(g, "q_concat")
	if q.NormalizeZ {
		node("l2norm", "l2 normalize rows", "box")
		g.AddEdge(last, "l2norm", true, nil)
		last = "l2norm"
	}

	node("query", fmt.Sprintf("query [%d]", q.EmbDim), "ellipse")
	g.AddEdge(last, "query", true, nil)

	return g.String(), nil
}
