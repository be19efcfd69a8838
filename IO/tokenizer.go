// Package IO handles everything at the edges of the model: the BPE
// tokenizer, batch construction, corpus streaming, and the checkpoint store.
package IO

import (
	"fmt"
	"os"
	"path/filepath"

	tk "github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/models"
	"github.com/sugarme/tokenizer/normalizers"
	"github.com/sugarme/tokenizer/pretokenizers"
	"github.com/sugarme/tokenizer/processors"
	"github.com/sugarme/tokenizer/trainers"

	"github.com/ballgpt/ballgpt/params"
)

// Special token strings, registered first so their ids are stable.
const (
	PadToken = "<pad>"
	BosToken = "<bos>"
	EosToken = "<eos>"
	UnkToken = "<unk>"
)

// Tokenizer wraps a trained BPE tokenizer plus the derived vocabulary.
type Tokenizer struct {
	bpe   *tk.Tokenizer
	Vocab params.Vocabulary

	PadID, BosID, EosID int
}

// TrainOrLoadBPE loads tokPath if present, otherwise trains a BPE tokenizer
// on corpusPath and saves it there.
func TrainOrLoadBPE(corpusPath, tokPath string, vocabSize int) (*Tokenizer, error) {
	if fileExists(tokPath) {
		t, err := tk.FromFile(tokPath)
		if err != nil {
			return nil, err
		}
		return fromPretrained(t)
	}

	bpe := models.NewBPE()
	t := tk.NewTokenizer(bpe)

	t.WithNormalizer(normalizers.NewSequence(
		normalizers.NewNFKC(),
		normalizers.NewLowercase(),
	))
	t.WithPreTokenizer(pretokenizers.NewWhitespaceSplit())

	proc := processors.NewTemplateProcessing(
		fmt.Sprintf("%s $A %s", BosToken, EosToken),
		"$A",
		map[string]int{
			BosToken: 1,
			EosToken: 2,
		},
	)
	t.WithPostProcessor(proc)

	tr := trainers.NewBpeTrainer()
	tr.VocabSize = vocabSize
	tr.SpecialTokens = []string{PadToken, BosToken, EosToken, UnkToken}

	if err := t.Train(tr, []string{corpusPath}); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(tokPath), 0o755); err != nil {
		return nil, err
	}
	if err := t.Save(tokPath); err != nil {
		return nil, err
	}
	return fromPretrained(t)
}

func fromPretrained(t *tk.Tokenizer) (*Tokenizer, error) {
	vocab := t.GetVocab(true)
	id2tok := make([]string, len(vocab))
	tok2id := make(map[string]int, len(vocab))
	for tok, id := range vocab {
		if id < 0 || id >= len(id2tok) {
			return nil, fmt.Errorf("IO: tokenizer vocab id %d out of range", id)
		}
		tok2id[tok] = id
		id2tok[id] = tok
	}
	tz := &Tokenizer{
		bpe:   t,
		Vocab: params.Vocabulary{TokenToID: tok2id, IDToToken: id2tok},
	}
	var ok bool
	if tz.PadID, ok = tok2id[PadToken]; !ok {
		return nil, fmt.Errorf("IO: tokenizer has no %s token", PadToken)
	}
	if tz.BosID, ok = tok2id[BosToken]; !ok {
		return nil, fmt.Errorf("IO: tokenizer has no %s token", BosToken)
	}
	if tz.EosID, ok = tok2id[EosToken]; !ok {
		return nil, fmt.Errorf("IO: tokenizer has no %s token", EosToken)
	}
	return tz, nil
}

// VocabSize reports the vocabulary size the model must match.
func (tz *Tokenizer) VocabSize() int { return len(tz.Vocab.IDToToken) }

// Encode converts raw text into token ids, BOS/EOS included via the template
// post-processor.
func (tz *Tokenizer) Encode(text string) ([]int, error) {
	enc, err := tz.bpe.EncodeSingle(text)
	if err != nil {
		return nil, err
	}
	ids := enc.Ids
	out := make([]int, len(ids))
	for i, v := range ids {
		out[i] = int(v)
	}
	return out, nil
}

// Decode maps ids back to a space-joined token string, skipping specials.
func (tz *Tokenizer) Decode(ids []int) string {
	out := ""
	for _, id := range ids {
		if id < 0 || id >= len(tz.Vocab.IDToToken) {
			continue
		}
		tok := tz.Vocab.IDToToken[id]
		if tok == PadToken || tok == BosToken || tok == EosToken {
			continue
		}
		if out != "" {
			out += " "
		}
		out += tok
	}
	return out
}

func fileExists(p string) bool {
	st, err := os.Stat(p)
	return err == nil && !st.IsDir()
}
