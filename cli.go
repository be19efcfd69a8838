package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ballgpt/ballgpt/IO"
	"github.com/ballgpt/ballgpt/metrics"
	"github.com/ballgpt/ballgpt/models"
	"github.com/ballgpt/ballgpt/params"
	"github.com/ballgpt/ballgpt/trainers"
)

func buildModelConfig(mf *modelFlags, vocabSize, padID int) models.Config {
	return models.Config{
		VocabSize:  vocabSize,
		DModel:     *mf.dModel,
		NumHeads:   *mf.heads,
		HiddenSize: *mf.hidden,
		NumLayers:  *mf.layers,
		SeqLen:     *mf.seqLen,
		PadTokenID: padID,
		Fused:      *mf.fused,
	}
}

func cmdTrain(args []string) error {
	fs := flag.NewFlagSet("train", flag.ExitOnError)
	mf := addModelFlags(fs)
	corpus := fs.String("corpus", "data/train.txt", "training corpus, one example per line")
	tokPath := fs.String("tokenizer", "data/tokenizer.json", "tokenizer file (trained if missing)")
	ckptDir := fs.String("ckpt", "checkpoints", "checkpoint directory")
	project := fs.String("project", "ballgpt", "checkpoint project key")
	name := fs.String("name", "dev", "checkpoint run name")
	steps := fs.Int("steps", 1000, "optimizer steps")
	batch := fs.Int("batch", 8, "batch size")
	warmup := fs.Int("warmup", 100, "warmup steps")
	decay := fs.Int("decay", 0, "cosine decay steps (0 = hold at peak)")
	lr := fs.Float64("lr", 3e-4, "peak learning rate for every module")
	wDensity := fs.Float64("wdensity", 0, "density penalty weight (0 = plain LM objective)")
	rampSteps := fs.Int("ramp", 1000, "density penalty ramp steps")
	saveEvery := fs.Int("save-every", 200, "checkpoint every N steps (0 = never)")
	evalEvery := fs.Int("eval-every", 50, "eval metrics every N steps (0 = never)")
	resume := fs.Bool("resume", false, "resume from the latest checkpoint")
	debug := fs.Bool("debug", false, "print loss between eval steps")
	if err := fs.Parse(args); err != nil {
		return err
	}

	tz, err := IO.TrainOrLoadBPE(*corpus, *tokPath, *mf.vocabSize)
	if err != nil {
		return err
	}
	fmt.Printf("tokenizer ready: %d tokens (pad=%d)\n", tz.VocabSize(), tz.PadID)

	cfg := params.Default()
	cfg.AttnLR, cfg.MLPLR, cfg.NormLR, cfg.HeadLR, cfg.EmbLR = *lr, *lr, *lr, *lr, *lr
	cfg.WarmupSteps = *warmup
	cfg.DecaySteps = *decay
	cfg.WDensity = *wDensity
	cfg.DensityRampSteps = *rampSteps
	cfg.BatchSize = *batch
	cfg.MaxSteps = *steps
	cfg.EvalEvery = *evalEvery
	cfg.Project = *project
	cfg.Name = *name
	cfg.SaveEverySteps = *saveEvery
	cfg.Debug = *debug

	store := &IO.CheckpointStore{Dir: *ckptDir}

	var model *models.LM
	if *resume {
		step, err := store.LatestStep(cfg.Project, cfg.Name)
		if err != nil {
			return err
		}
		snap, err := store.Load(cfg.Project, cfg.Name, step)
		if err != nil {
			return err
		}
		if model, err = models.FromSnapshot(snap); err != nil {
			return err
		}
		fmt.Printf("resumed %s/%s from step %d (%s)\n", cfg.Project, cfg.Name, step, model.Variant())
	} else {
		model, err = models.Build(*mf.variant, buildModelConfig(mf, tz.VocabSize(), tz.PadID))
		if err != nil {
			return err
		}
		fmt.Printf("built %s model: d=%d heads=%d layers=%d\n",
			model.Variant(), model.Cfg.DModel, model.Cfg.NumHeads, model.Cfg.NumLayers)
	}

	iter, err := IO.NewLineIter(*corpus, tz)
	if err != nil {
		return err
	}
	defer iter.Close()
	if n, err := IO.CountLines(*corpus); err == nil {
		fmt.Printf("corpus: %d lines\n", n)
	}

	next := func() (IO.TokenBatch, bool) {
		b, err := iter.NextBatch(cfg.BatchSize, model.Cfg.SeqLen, tz.PadID)
		if err == io.EOF {
			return IO.TokenBatch{}, false
		}
		if err != nil {
			fmt.Fprintln(os.Stderr, "ballgpt:", err)
			return IO.TokenBatch{}, false
		}
		return b, true
	}

	lm := trainers.NewLMTrainer(model, cfg)
	lm.Store = store
	if cfg.WDensity > 0 {
		return trainers.NewPBitTrainer(lm, model).Run(next)
	}
	return lm.Run(next)
}

func cmdEval(args []string) error {
	fs := flag.NewFlagSet("eval", flag.ExitOnError)
	evalFile := fs.String("eval", "data/eval.txt", "eval file, one example per line")
	tokPath := fs.String("tokenizer", "data/tokenizer.json", "tokenizer file")
	ckptDir := fs.String("ckpt", "checkpoints", "checkpoint directory")
	project := fs.String("project", "ballgpt", "checkpoint project key")
	name := fs.String("name", "dev", "checkpoint run name")
	step := fs.Int("step", 0, "checkpoint step (0 = latest)")
	batch := fs.Int("batch", 8, "batch size")
	if err := fs.Parse(args); err != nil {
		return err
	}

	model, tz, err := loadCheckpoint(*ckptDir, *project, *name, *step, *tokPath)
	if err != nil {
		return err
	}

	iter, err := IO.NewLineIter(*evalFile, tz)
	if err != nil {
		return err
	}
	defer iter.Close()

	tr := trainers.NewLMTrainer(model, params.Default())
	var loss, ppl, acc, pcorr float64
	n := 0
	for {
		b, err := iter.NextBatch(*batch, model.Cfg.SeqLen, tz.PadID)
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		res, err := tr.Eval(b)
		if err != nil {
			return err
		}
		loss += res.LMLoss
		ppl += res.PPL
		acc += res.Acc
		pcorr += res.PCorr
		n++
	}
	if n == 0 {
		return fmt.Errorf("no eval batches in %s", *evalFile)
	}
	d := float64(n)
	fmt.Printf("eval (%d batches): loss=%.4f ppl=%.2f acc=%.4f pcorr=%.4f\n",
		n, loss/d, ppl/d, acc/d, pcorr/d)
	return nil
}

// cmdSmoke exercises the full path without a corpus: a tiny tokenizer batch
// through both variants, metrics on the result, and the reparameterization
// round trip.
func cmdSmoke(args []string) error {
	fs := flag.NewFlagSet("smoke", flag.ExitOnError)
	mf := addModelFlags(fs)
	tokPath := fs.String("tokenizer", "data/tokenizer.json", "tokenizer file (trained on the smoke sentences if missing)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	sentences := []string{
		"Hello, my dog is cute",
		"His dog is cute too",
		"All dogs are cute",
	}

	corpus, err := writeSmokeCorpus(sentences)
	if err != nil {
		return err
	}
	defer os.Remove(corpus)

	tz, err := IO.TrainOrLoadBPE(corpus, *tokPath, *mf.vocabSize)
	if err != nil {
		return err
	}
	fmt.Printf("tokenizer: %d tokens\n", tz.VocabSize())

	seqs := make([][]int, len(sentences))
	for i, s := range sentences {
		if seqs[i], err = tz.Encode(s); err != nil {
			return err
		}
	}
	batch := IO.NewTokenBatch(seqs, 16, tz.PadID)

	model, err := models.Build(*mf.variant, buildModelConfig(mf, tz.VocabSize(), tz.PadID))
	if err != nil {
		return err
	}
	if err := printMetrics(model, batch); err != nil {
		return err
	}

	models.SphereReparam(model)
	models.SphereReparam(model) // second call is a no-op
	fmt.Printf("after reparam: variant=%s density=%.4f\n", model.Variant(), model.Density())
	return printMetrics(model, batch)
}

func printMetrics(model *models.LM, batch IO.TokenBatch) error {
	lp, err := model.LogProbsBatch(batch.Inputs)
	if err != nil {
		return err
	}
	loss, err := metrics.Loss(lp, batch.Targets, metrics.PadID, true)
	if err != nil {
		return err
	}
	ppl, err := metrics.Perplexity(lp, batch.Targets, metrics.PadID, true)
	if err != nil {
		return err
	}
	acc, err := metrics.Accuracy(lp, batch.Targets, metrics.PadID, true)
	if err != nil {
		return err
	}
	pcorr, err := metrics.PCorr(lp, batch.Targets, metrics.PadID, true)
	if err != nil {
		return err
	}
	b, t := batch.Size()
	fmt.Printf("[%s] batch (%d x %d): loss=%.4f ppl=%.2f acc=%.4f pcorr=%.4f\n",
		model.Variant(), b, t, loss, ppl, acc, pcorr)
	return nil
}

func writeSmokeCorpus(sentences []string) (string, error) {
	f, err := os.CreateTemp("", "smoke-*.txt")
	if err != nil {
		return "", err
	}
	for _, s := range sentences {
		if _, err := fmt.Fprintln(f, s); err != nil {
			f.Close()
			return "", err
		}
	}
	return f.Name(), f.Close()
}

func cmdChat(args []string) error {
	fs := flag.NewFlagSet("chat", flag.ExitOnError)
	tokPath := fs.String("tokenizer", "data/tokenizer.json", "tokenizer file")
	ckptDir := fs.String("ckpt", "checkpoints", "checkpoint directory")
	project := fs.String("project", "ballgpt", "checkpoint project key")
	name := fs.String("name", "dev", "checkpoint run name")
	step := fs.Int("step", 0, "checkpoint step (0 = latest)")
	maxTokens := fs.Int("max-tokens", 50, "max tokens per reply")
	topK := fs.Int("topk", 10, "top-k sampling cutoff")
	topP := fs.Float64("topp", 0.9, "nucleus sampling cutoff")
	if err := fs.Parse(args); err != nil {
		return err
	}

	model, tz, err := loadCheckpoint(*ckptDir, *project, *name, *step, *tokPath)
	if err != nil {
		return err
	}

	reader := bufio.NewReader(os.Stdin)
	fmt.Println("type a prompt, or 'exit' to quit")
	for {
		fmt.Print("you: ")
		line, err := reader.ReadString('\n')
		if err != nil {
			return nil
		}
		line = strings.TrimSpace(line)
		if line == "exit" {
			return nil
		}
		if line == "" {
			continue
		}
		ids, err := tz.Encode(line)
		if err != nil {
			return err
		}
		out := model.Generate(ids, *maxTokens, *topK, *topP, tz.EosID)
		fmt.Println("bot:", tz.Decode(out[len(ids):]))
	}
}

func loadCheckpoint(ckptDir, project, name string, step int, tokPath string) (*models.LM, *IO.Tokenizer, error) {
	store := &IO.CheckpointStore{Dir: ckptDir}
	if step == 0 {
		var err error
		if step, err = store.LatestStep(project, name); err != nil {
			return nil, nil, err
		}
	}
	snap, err := store.Load(project, name, step)
	if err != nil {
		return nil, nil, err
	}
	model, err := models.FromSnapshot(snap)
	if err != nil {
		return nil, nil, err
	}
	tz, err := IO.TrainOrLoadBPE("", tokPath, 0)
	if err != nil {
		return nil, nil, err
	}
	if tz.VocabSize() != model.Cfg.VocabSize {
		return nil, nil, fmt.Errorf("tokenizer has %d tokens, checkpoint expects %d",
			tz.VocabSize(), model.Cfg.VocabSize)
	}
	fmt.Printf("loaded %s/%s step %d (%s)\n", project, name, step, model.Variant())
	return model, tz, nil
}
