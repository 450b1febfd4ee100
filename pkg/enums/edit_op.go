package enums

import "fmt"

// EditOp names a supported image edit operation.
type EditOp string

const (
	EditOpCrop   EditOp = "crop"
	EditOpResize EditOp = "resize"
	EditOpRotate EditOp = "rotate"
	EditOpAdjust EditOp = "adjust"
)

var validEditOps = []EditOp{
	EditOpCrop,
	EditOpResize,
	EditOpRotate,
	EditOpAdjust,
}

func (e EditOp) String() string {
	return string(e)
}

func (e EditOp) IsValid() bool {
	for _, candidate := range validEditOps {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseEditOp converts raw input into an EditOp.
func ParseEditOp(value string) (EditOp, error) {
	for _, candidate := range validEditOps {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid edit operation %q", value)
}
