package main

import (
	"flag"
	"fmt"
	"os"
)

func usage() {
	fmt.Fprintln(os.Stderr, `usage: ballgpt <command> [flags]

commands:
  train   train a model variant on a line-per-example corpus
  eval    run loss/ppl/acc/pcorr on an eval file from a checkpoint
  smoke   tokenize a few sentences, forward both variants, print metrics
  chat    sample from a trained checkpoint interactively

run "ballgpt <command> -h" for the command's flags`)
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	var err error
	switch os.Args[1] {
	case "train":
		err = cmdTrain(os.Args[2:])
	case "eval":
		err = cmdEval(os.Args[2:])
	case "smoke":
		err = cmdSmoke(os.Args[2:])
	case "chat":
		err = cmdChat(os.Args[2:])
	case "-h", "--help", "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "ballgpt: unknown command %q\n", os.Args[1])
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "ballgpt:", err)
		os.Exit(1)
	}
}

// modelFlags registers the model-shape flags shared by every command.
type modelFlags struct {
	variant   *string
	dModel    *int
	heads     *int
	hidden    *int
	layers    *int
	seqLen    *int
	vocabSize *int
	fused     *bool
}

func addModelFlags(fs *flag.FlagSet) *modelFlags {
	return &modelFlags{
		variant:   fs.String("variant", "base", "model variant: base or ball"),
		dModel:    fs.Int("dmodel", 128, "model width"),
		heads:     fs.Int("heads", 4, "attention heads"),
		hidden:    fs.Int("hidden", 512, "MLP hidden size"),
		layers:    fs.Int("layers", 4, "transformer blocks"),
		seqLen:    fs.Int("seqlen", 128, "max sequence length"),
		vocabSize: fs.Int("vocab", 8192, "tokenizer vocabulary size"),
		fused:     fs.Bool("fused", false, "use the fused bias path on the read-out head"),
	}
}
