package finetune

// 训练消息的固定提示词。
const (
	SystemPrompt = "You are an assistant that transcribes speech as ASLGLoss"
	UserPrompt   = "Please transcribe this audio as ASLGLoss"
)

// IgnoreIndex: 不参与损失计算的标签值。
const IgnoreIndex = -100

// SpecialTokens: 分词器可选的特殊 token id；未声明（nil）的不参与掩码。
type SpecialTokens struct {
	Pad   *int `mapstructure:"pad" yaml:"pad" json:"pad,omitempty"`
	Image *int `mapstructure:"image" yaml:"image" json:"image,omitempty"`
	Audio *int `mapstructure:"audio" yaml:"audio" json:"audio,omitempty"`
	BOI   *int `mapstructure:"boi" yaml:"boi" json:"boi,omitempty"`
	EOI   *int `mapstructure:"eoi" yaml:"eoi" json:"eoi,omitempty"`
}

// IDs 返回已声明的 id 集合。
func (s SpecialTokens) IDs() map[int]struct{} {
	out := map[int]struct{}{}
	for _, p := range []*int{s.Pad, s.Image, s.Audio, s.BOI, s.EOI} {
		if p != nil {
			out[*p] = struct{}{}
		}
	}
	return out
}

// Hyperparameters: 记录在 train_manifest.json 中的训练超参（LoRA + SFT）。
type Hyperparameters struct {
	LoRARank     int     `mapstructure:"lora_r" yaml:"lora_r" json:"lora_r"`
	LoRAAlpha    int     `mapstructure:"lora_alpha" yaml:"lora_alpha" json:"lora_alpha"`
	LoRADropout  float64 `mapstructure:"lora_dropout" yaml:"lora_dropout" json:"lora_dropout"`
	BatchSize    int     `mapstructure:"per_device_train_batch_size" yaml:"per_device_train_batch_size" json:"per_device_train_batch_size"`
	GradAccum    int     `mapstructure:"gradient_accumulation_steps" yaml:"gradient_accumulation_steps" json:"gradient_accumulation_steps"`
	WarmupRatio  float64 `mapstructure:"warmup_ratio" yaml:"warmup_ratio" json:"warmup_ratio"`
	MaxSteps     int     `mapstructure:"max_steps" yaml:"max_steps" json:"max_steps"`
	LearningRate float64 `mapstructure:"learning_rate" yaml:"learning_rate" json:"learning_rate"`
	WeightDecay  float64 `mapstructure:"weight_decay" yaml:"weight_decay" json:"weight_decay"`
	Scheduler    string  `mapstructure:"lr_scheduler_type" yaml:"lr_scheduler_type" json:"lr_scheduler_type"`
	Seed         int     `mapstructure:"seed" yaml:"seed" json:"seed"`
	MaxLength    int     `mapstructure:"max_length" yaml:"max_length" json:"max_length"`
}

// DefaultHyperparameters 与参考训练脚本一致。
func DefaultHyperparameters() Hyperparameters {
	return Hyperparameters{
		LoRARank:     8,
		LoRAAlpha:    16,
		LoRADropout:  0,
		BatchSize:    4,
		GradAccum:    1,
		WarmupRatio:  0.1,
		MaxSteps:     12000,
		LearningRate: 5e-5,
		WeightDecay:  0.01,
		Scheduler:    "cosine",
		Seed:         3407,
		MaxLength:    2048,
	}
}
