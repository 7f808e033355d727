package breakglass

import (
	"io"
	"time"
)

func SetCodeGenFunc(f func() (string, error)) (restore func()) {
	old := codeGenFunc
	codeGenFunc = f
	return func() { codeGenFunc = old }
}

func SetNowFunc(f func() time.Time) (restore func()) {
	old := nowFunc
	nowFunc = f
	return func() { nowFunc = old }
}

func SetRandReader(r io.Reader) (restore func()) {
	old := randReader
	randReader = r
	return func() { randReader = old }
}
