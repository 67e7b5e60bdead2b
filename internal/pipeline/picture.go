package pipeline

import (
	"github.com/bluenviron/hwdecode/internal/v4l2"
)

// Plane is a plane of a decoded picture.
type Plane struct {
	Data   []byte
	Stride int
}

// Picture is a decoded picture.
// Plane data points to device memory and is valid only during Presenter.Present.
type Picture struct {
	Width  int
	Height int
	Format v4l2.FourCC
	Planes []Plane
}

// Presenter receives decoded pictures.
type Presenter interface {
	Present(pic *Picture) error
}

// PresenterFunc is a function that implements Presenter.
type PresenterFunc func(pic *Picture) error

// Present implements Presenter.
func (f PresenterFunc) Present(pic *Picture) error {
	return f(pic)
}
