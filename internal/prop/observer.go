package prop

import (
	"github.com/teslashibe/go-jaw/internal/audio"
	"github.com/teslashibe/go-jaw/internal/playback"
)

// observers forwards every frame to each observer in turn
type observers []playback.Observer

func (o observers) VocalFrame(loudness audio.Loudness, target float64, applied bool) {
	for _, obs := range o {
		obs.VocalFrame(loudness, target, applied)
	}
}

func fanOut(list []playback.Observer) playback.Observer {
	var out observers
	for _, o := range list {
		if o != nil {
			out = append(out, o)
		}
	}
	switch len(out) {
	case 0:
		return nil
	case 1:
		return out[0]
	}
	return out
}
