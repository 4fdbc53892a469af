package transcript

import (
	"strconv"
	"strings"

	"vet-scribe-service/internal/models"
)

// UnknownSpeaker is the key for words without a speaker attribution.
const UnknownSpeaker = "unknown_speaker"

// SpeakerKey returns the bucket label for a speaker id.
func SpeakerKey(id *int) string {
	if id == nil {
		return UnknownSpeaker
	}
	return "speaker_" + strconv.Itoa(*id)
}

// speakerMap keeps utterances per speaker in key creation order.
type speakerMap struct {
	order []string
	text  map[string]string
}

// add appends run to key, creating the key on first sight. A run the key already ends
// with is dropped.
func (m *speakerMap) add(key, run string) {
	if run == "" {
		return
	}
	if m.text == nil {
		m.text = make(map[string]string)
	}
	existing, ok := m.text[key]
	if !ok {
		m.order = append(m.order, key)
		m.text[key] = run
		return
	}
	if endsWithPhrase(existing, run) {
		return
	}
	m.text[key] = joinText(existing, run)
}

func (m *speakerMap) list() []models.SpeakerUtterance {
	if len(m.order) == 0 {
		return nil
	}
	out := make([]models.SpeakerUtterance, 0, len(m.order))
	for _, k := range m.order {
		out = append(out, models.SpeakerUtterance{Speaker: k, Text: m.text[k]})
	}
	return out
}

// segmentSpeakers groups contiguous words with the same speaker key and flushes each run
// into the speaker map when the speaker changes and once more at the end.
func (a *Assembler) segmentSpeakers(words []models.WordToken) {
	var (
		current string
		run     []string
	)
	flush := func() {
		if len(run) > 0 {
			a.speakers.add(current, strings.Join(run, " "))
		}
		run = run[:0]
	}

	for _, w := range words {
		word := strings.TrimSpace(w.Word)
		if word == "" {
			continue
		}
		key := SpeakerKey(w.SpeakerID)
		if len(run) > 0 && key != current {
			flush()
		}
		current = key
		run = append(run, word)
	}
	flush()
}
