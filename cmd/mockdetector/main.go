package main

import (
	"encoding/json"
	"flag"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/technosupport/ts-eventgate/internal/logging"
)

// mockdetector stands in for the inference service during local runs.
// Every image yields one box per configured class, drifting horizontally
// between requests.

type detection struct {
	ClassID    int        `json:"class_id"`
	Confidence float64    `json:"confidence"`
	Box        [4]float64 `json:"box"`
}

type response struct {
	Detections []detection `json:"detections"`
}

type mover struct {
	mu  sync.Mutex
	x   float64
	dir float64
}

func (m *mover) next() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.x += m.dir
	if m.x > 0.6 || m.x < 0.05 {
		m.dir = -m.dir
	}
	return m.x
}

func main() {
	addr := flag.String("addr", ":8000", "Listen address")
	classList := flag.String("classes", "2", "Comma-separated class IDs to report")
	confidence := flag.Float64("confidence", 0.6, "Confidence reported for every box")
	flag.Parse()

	logging.Setup("info", "console")

	var classes []int
	for _, c := range strings.Split(*classList, ",") {
		id, err := strconv.Atoi(strings.TrimSpace(c))
		if err != nil {
			log.Fatal().Str("class", c).Msg("Invalid class id")
		}
		classes = append(classes, id)
	}

	m := &mover{x: 0.1, dir: 0.05}

	r := chi.NewRouter()
	r.Post("/detect", func(w http.ResponseWriter, r *http.Request) {
		f, _, err := r.FormFile("image")
		if err != nil {
			http.Error(w, "missing image", http.StatusBadRequest)
			return
		}
		defer f.Close()

		cfg, _, err := image.DecodeConfig(f)
		if err != nil {
			http.Error(w, "undecodable image", http.StatusUnprocessableEntity)
			return
		}

		floor, _ := strconv.ParseFloat(r.FormValue("conf"), 64)
		resp := response{Detections: []detection{}}
		if *confidence >= floor {
			width, height := float64(cfg.Width), float64(cfg.Height)
			x := m.next() * width
			for _, id := range classes {
				resp.Detections = append(resp.Detections, detection{
					ClassID:    id,
					Confidence: *confidence,
					Box:        [4]float64{x, height * 0.3, x + width*0.2, height * 0.7},
				})
			}
		}

		log.Info().Int("boxes", len(resp.Detections)).Int("w", cfg.Width).Int("h", cfg.Height).Msg("Detect")
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	})

	log.Info().Str("addr", *addr).Ints("classes", classes).Msg("Mock detector listening")
	if err := http.ListenAndServe(*addr, r); err != nil {
		log.Fatal().Err(err).Msg("Mock detector failed")
	}
}
