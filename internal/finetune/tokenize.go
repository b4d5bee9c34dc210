package finetune

import (
	"github.com/eliben/go-sentencepiece"
	"github.com/pkg/errors"
)

// Tokenizer 将渲染后的对话文本编码为 token id。
type Tokenizer interface {
	Encode(text string) []int
}

// SentencePiece 基于 Gemma 的 tokenizer.model。
type SentencePiece struct {
	proc *sentencepiece.Processor
}

// NewSentencePiece 从 protobuf 模型文件加载。
func NewSentencePiece(path string) (*SentencePiece, error) {
	proc, err := sentencepiece.NewProcessorFromPath(path)
	if err != nil {
		return nil, errors.Wrapf(err, "load sentencepiece model %s", path)
	}
	return &SentencePiece{proc: proc}, nil
}

func (s *SentencePiece) Encode(text string) []int {
	toks := s.proc.Encode(text)
	ids := make([]int, len(toks))
	for i, t := range toks {
		ids[i] = t.ID
	}
	return ids
}

// Decode 还原 id 序列（调试用）。
func (s *SentencePiece) Decode(ids []int) string { return s.proc.Decode(ids) }

// MaskLabels 复制 ids 作为标签，已声明的特殊 token 位置置为 IgnoreIndex。
func MaskLabels(ids []int, st SpecialTokens) []int {
	mask := st.IDs()
	labels := make([]int, len(ids))
	for i, id := range ids {
		if _, ok := mask[id]; ok {
			labels[i] = IgnoreIndex
			continue
		}
		labels[i] = id
	}
	return labels
}
