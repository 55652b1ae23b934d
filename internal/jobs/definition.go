package jobs

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"reflect"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"

	"github.com/yourusername/sd-worker/internal/compute"
)

const (
	defaultSteps      = 50
	defaultImageSide  = 512
	defaultScale      = 2
	maxChainLength    = 16
	maxImageDataBytes = 16 << 20
)

var acceptedImageTypes = []string{"image/png", "image/jpeg", "image/webp"}

// ValidationError はジョブ定義が不正な場合のエラーです。該当ジョブはキューに投入されません。
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func newValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// Txt2ImgParams はテキストからの画像生成ジョブのパラメーターです。
type Txt2ImgParams struct {
	Prompt string `json:"prompt" validate:"required,max=2000"`
	Model  string `json:"model" validate:"omitempty,txt2img_model"`
	Steps  int    `json:"steps" validate:"omitempty,min=1,max=150"`
	Width  int    `json:"width" validate:"omitempty,min=64,max=1024,multiple8"`
	Height int    `json:"height" validate:"omitempty,min=64,max=1024,multiple8"`
	NSFW   bool   `json:"nsfw"`
}

// UpscaleParams は超解像ジョブのパラメーターです。
// Image は base64（data URL 可）で受け取り、検証後に ImageData へ展開されます。
type UpscaleParams struct {
	Model string `json:"model" validate:"required,upscale_model"`
	Scale int    `json:"scale" validate:"omitempty,oneof=2 3 4"`
	Image string `json:"image" validate:"omitempty,base64"`

	ImageData []byte `json:"-"`
}

type chainParams struct {
	Jobs []json.RawMessage `json:"jobs" validate:"required,min=1"`
}

type definitionHeader struct {
	Type  Kind   `json:"type"`
	Title string `json:"title"`
}

// Spec は検証済みのジョブ定義です。Kind に応じてどれか1つのパラメーターだけが設定されます。
type Spec struct {
	Kind    Kind
	Title   string
	Txt2Img *Txt2ImgParams
	Upscale *UpscaleParams
	Chain   []Spec
}

// DisplayTitle はチェーン内で使う表示名を返します。
func (s Spec) DisplayTitle() string {
	if s.Title != "" {
		return s.Title
	}
	switch s.Kind {
	case KindTxt2Img:
		return "Text to Image"
	case KindUpscale:
		return fmt.Sprintf("Upscale x%d", s.Upscale.Scale)
	default:
		return string(s.Kind)
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("multiple8", func(fl validator.FieldLevel) bool {
		return fl.Field().Int()%8 == 0
	})
	_ = v.RegisterValidation("txt2img_model", func(fl validator.FieldLevel) bool {
		_, ok := txt2imgModels[fl.Field().String()]
		return ok
	})
	_ = v.RegisterValidation("upscale_model", func(fl validator.FieldLevel) bool {
		_, ok := upscaleModels[fl.Field().String()]
		return ok
	})
	return v
}

// ParseDefinition はクライアントから受け取ったジョブ定義を検証して Spec を返します。
func ParseDefinition(raw []byte) (Spec, error) {
	return parseDefinition(raw, "", false)
}

func parseDefinition(raw []byte, path string, nested bool) (Spec, error) {
	var header definitionHeader
	if err := json.Unmarshal(raw, &header); err != nil {
		return Spec{}, newValidationError(path, "job definition must be a JSON object")
	}

	spec := Spec{Kind: header.Type, Title: strings.TrimSpace(header.Title)}
	switch header.Type {
	case KindTxt2Img:
		params := &Txt2ImgParams{}
		if err := json.Unmarshal(raw, params); err != nil {
			return Spec{}, newValidationError(path, "invalid job definition: %v", err)
		}
		params.Prompt = strings.TrimSpace(params.Prompt)
		if err := validateStruct(params, path); err != nil {
			return Spec{}, err
		}
		if params.Model == "" {
			params.Model = defaultTxt2ImgModel
		}
		if params.Steps == 0 {
			params.Steps = defaultSteps
		}
		if params.Width == 0 {
			params.Width = defaultImageSide
		}
		if params.Height == 0 {
			params.Height = defaultImageSide
		}
		spec.Txt2Img = params

	case KindUpscale:
		params := &UpscaleParams{}
		if err := json.Unmarshal(raw, params); err != nil {
			return Spec{}, newValidationError(path, "invalid upscale definition: %v", err)
		}
		params.Image = stripDataURL(params.Image)
		if err := validateStruct(params, path); err != nil {
			return Spec{}, err
		}
		if params.Scale == 0 {
			params.Scale = defaultScale
		}
		if params.Image != "" {
			data, err := decodeImage(params.Image, params.Scale, joinField(path, "image"))
			if err != nil {
				return Spec{}, err
			}
			params.ImageData = data
			params.Image = ""
		}
		spec.Upscale = params

	case KindChain:
		if nested {
			return Spec{}, newValidationError(path, "chain jobs cannot be nested")
		}
		params := &chainParams{}
		if err := decodeParams(raw, params, path); err != nil {
			return Spec{}, err
		}
		if len(params.Jobs) > maxChainLength {
			return Spec{}, newValidationError(joinField(path, "jobs"), "at most %d jobs can be chained", maxChainLength)
		}
		for i, sub := range params.Jobs {
			subPath := fmt.Sprintf("%sjobs[%d]", prefix(path), i)
			child, err := parseDefinition(sub, subPath, true)
			if err != nil {
				return Spec{}, err
			}
			spec.Chain = append(spec.Chain, child)
		}
		if err := checkChainInputs(spec.Chain, path); err != nil {
			return Spec{}, err
		}

	case "":
		return Spec{}, newValidationError(joinField(path, "type"), "job type is required")
	default:
		return Spec{}, newValidationError(joinField(path, "type"), "invalid job type: %q", header.Type)
	}

	if spec.Kind == KindUpscale && !nested && spec.Upscale.ImageData == nil {
		return Spec{}, newValidationError(joinField(path, "image"), "image is required")
	}
	return spec, nil
}

// チェーン先頭の upscale には入力画像が必要。2番目以降は直前の結果を受け取れる。
func checkChainInputs(chain []Spec, path string) error {
	if len(chain) == 0 {
		return nil
	}
	first := chain[0]
	if first.Kind == KindUpscale && first.Upscale.ImageData == nil {
		return newValidationError(fmt.Sprintf("%sjobs[0].image", prefix(path)), "image is required")
	}
	return nil
}

func decodeParams(raw []byte, params any, path string) error {
	if err := json.Unmarshal(raw, params); err != nil {
		return newValidationError(path, "invalid job definition: %v", err)
	}
	return validateStruct(params, path)
}

func validateStruct(params any, path string) error {
	err := validate.Struct(params)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return newValidationError(path, "%v", err)
	}
	fe := verrs[0]
	return newValidationError(joinField(path, fe.Field()), "%s", describeFieldError(fe))
}

func describeFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	case "oneof":
		return "must be one of " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "multiple8":
		return "must be a multiple of 8"
	case "txt2img_model", "upscale_model":
		return "invalid model"
	case "base64":
		return "must be base64 encoded"
	default:
		return "failed on " + fe.Tag()
	}
}

func decodeImage(encoded string, scale int, field string) ([]byte, error) {
	if base64.StdEncoding.DecodedLen(len(encoded)) > maxImageDataBytes {
		return nil, newValidationError(field, "image is too large")
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, newValidationError(field, "must be base64 encoded")
	}
	mtype := mimetype.Detect(data)
	if !mimetype.EqualsAny(mtype.String(), acceptedImageTypes...) {
		return nil, newValidationError(field, "unsupported image type %s", mtype.String())
	}
	// ヘッダーの寸法だけを読み、展開前に出力サイズを確認する。
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, newValidationError(field, "unreadable image: %v", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, newValidationError(field, "image has no pixels")
	}
	if cfg.Width*scale > compute.MaxOutputSide || cfg.Height*scale > compute.MaxOutputSide {
		return nil, newValidationError(field, "image %dx%d is too large to upscale x%d (max %d px per side)",
			cfg.Width, cfg.Height, scale, compute.MaxOutputSide)
	}
	return data, nil
}

func stripDataURL(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "data:") {
		if i := strings.Index(s, ";base64,"); i >= 0 {
			return s[i+len(";base64,"):]
		}
	}
	return s
}

func prefix(path string) string {
	if path == "" {
		return ""
	}
	return path + "."
}

func joinField(path, field string) string {
	return prefix(path) + field
}
