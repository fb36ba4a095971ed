package main

import (
	"fmt"
	"os"

	arg "github.com/alexflint/go-arg"
	"github.com/pkg/errors"

	"siamese-iris/internal/checkpoint"
	"siamese-iris/internal/dataset"
	"siamese-iris/internal/model"
)

type args struct {
	Model     string `arg:"--model" help:"checkpoint written by siamese-train" default:"siamese_network.ckpt"`
	ImageSize int    `arg:"--image-size" help:"resize images to NxN; 0 uses the size stored in the checkpoint"`
	First     string `arg:"positional,required" help:"first iris image"`
	Second    string `arg:"positional,required" help:"second iris image"`
}

func (args) Description() string {
	return "Scores whether two iris images show the same eye."
}

func main() {
	var a args
	arg.MustParse(&a)
	if err := run(a); err != nil {
		fmt.Fprintln(os.Stderr, "iris-compare:", err)
		os.Exit(1)
	}
}

func run(a args) error {
	st, err := checkpoint.Load(a.Model)
	if err != nil {
		return err
	}
	if a.ImageSize > 0 {
		st.Meta.ImageSize = a.ImageSize
	}
	net, err := model.FromCheckpoint(st)
	if err != nil {
		return err
	}

	first, err := dataset.DecodeFile(a.First)
	if err != nil {
		return errors.Wrap(err, a.First)
	}
	second, err := dataset.DecodeFile(a.Second)
	if err != nil {
		return errors.Wrap(err, a.Second)
	}

	prob, err := net.Compare(first, second)
	if err != nil {
		return err
	}
	verdict := "different"
	if model.Same(prob) {
		verdict = "same"
	}
	fmt.Printf("similarity: %.4f (%s)\n", prob, verdict)
	return nil
}
