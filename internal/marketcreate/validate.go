package marketcreate

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-playground/validator/v10"

	"github.com/alanyoungcy/predictionperps/internal/domain"
	"github.com/alanyoungcy/predictionperps/internal/protocol"
)

var tickerStrip = regexp.MustCompile(`[^A-Z0-9]`)

// SanitizeTicker uppercases raw, strips everything outside A-Z and 0-9 and
// truncates to maxLen characters.
func SanitizeTicker(raw string, maxLen int) string {
	s := tickerStrip.ReplaceAllString(strings.ToUpper(raw), "")
	if maxLen >= 0 && len(s) > maxLen {
		s = s[:maxLen]
	}
	return s
}

// ValidTicker reports whether t is already a sanitized, non-empty ticker.
func ValidTicker(t string, maxLen int) bool {
	return t != "" && len(t) <= maxLen && !tickerStrip.MatchString(t)
}

// Normalize applies the input-side cleanup a form would apply as the user
// types: tickers are sanitized and names trimmed. It does not fill defaults.
func Normalize(d domain.MarketDraft, maxLen int) domain.MarketDraft {
	out := d
	out.Name = strings.TrimSpace(d.Name)
	out.Ticker = SanitizeTicker(d.Ticker, maxLen)
	out.Positions = make([]domain.PositionDraft, len(d.Positions))
	for i, p := range d.Positions {
		out.Positions[i] = domain.PositionDraft{
			Name:   strings.TrimSpace(p.Name),
			Ticker: SanitizeTicker(p.Ticker, maxLen),
			Weight: strings.TrimSpace(p.Weight),
		}
	}
	out.Liability = strings.TrimSpace(d.Liability)
	return out
}

// DraftError lists every problem found in a draft.
type DraftError struct {
	Problems []string
}

func (e *DraftError) Error() string {
	return domain.ErrInvalidDraft.Error() + ": " + strings.Join(e.Problems, "; ")
}

func (e *DraftError) Unwrap() error    { return domain.ErrInvalidDraft }
func (e *DraftError) Describe() string { return strings.Join(e.Problems, "; ") }

// Validator checks drafts against one protocol configuration.
type Validator struct {
	cfg      *protocol.Config
	validate *validator.Validate
}

// NewValidator builds a Validator whose ticker length and collateral
// precision follow cfg.
func NewValidator(cfg *protocol.Config) *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	err := registerTags(v, []draftTag{
		{"nonblank", func(fl validator.FieldLevel) bool {
			return strings.TrimSpace(fl.Field().String()) != ""
		}},
		{"ticker", func(fl validator.FieldLevel) bool {
			return ValidTicker(fl.Field().String(), cfg.TickerMaxLen)
		}},
		{"posint", func(fl validator.FieldLevel) bool {
			_, err := protocol.ParsePositiveInt(fl.Field().String())
			return err == nil
		}},
		{"amount", func(fl validator.FieldLevel) bool {
			_, err := protocol.ParseUnits(fl.Field().String(), cfg.CollateralDecimals)
			return err == nil
		}},
	})
	if err != nil {
		panic(err)
	}
	return &Validator{cfg: cfg, validate: v}
}

type draftTag struct {
	name string
	fn   validator.Func
}

func registerTags(v *validator.Validate, tags []draftTag) error {
	for _, t := range tags {
		if err := v.RegisterValidation(t.name, t.fn); err != nil {
			return fmt.Errorf("marketcreate: register %q: %w", t.name, err)
		}
	}
	return nil
}

// Validate returns a *DraftError describing every problem in d, or nil.
func (v *Validator) Validate(d domain.MarketDraft) error {
	var problems []string
	if err := v.validate.Struct(d); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return fmt.Errorf("marketcreate: validate: %w", err)
		}
		for _, fe := range fieldErrs {
			problems = append(problems, v.describeField(fe))
		}
	}
	if n := len(d.Positions); n < v.cfg.MinPositions || n > v.cfg.MaxPositions {
		problems = append(problems, fmt.Sprintf("positions: need between %d and %d, got %d", v.cfg.MinPositions, v.cfg.MaxPositions, n))
	}
	if d.OracleAddress == (common.Address{}) && v.cfg.Oracle == (common.Address{}) {
		problems = append(problems, "oracle_address: required when no default oracle is configured")
	}
	if len(problems) > 0 {
		return &DraftError{Problems: problems}
	}
	return nil
}

func (v *Validator) describeField(fe validator.FieldError) string {
	field := fe.Namespace()
	if i := strings.IndexByte(field, '.'); i >= 0 {
		field = field[i+1:]
	}
	switch fe.Tag() {
	case "nonblank":
		return field + ": must not be empty"
	case "ticker":
		return fmt.Sprintf("%s: must be 1-%d characters of A-Z or 0-9", field, v.cfg.TickerMaxLen)
	case "posint":
		return field + ": must be a positive integer"
	case "amount":
		return fmt.Sprintf("%s: must be a non-negative decimal with at most %d decimal places", field, v.cfg.CollateralDecimals)
	default:
		return fmt.Sprintf("%s: failed %s", field, fe.Tag())
	}
}
