package transcription

import "github.com/parlo-app/parlo-stt/internal/model"

// Result is the transcript a backend hands back. It is a plain value;
// callers persist it verbatim.
type Result struct {
	Text string `json:"text"`
	// Language is the detected or hinted ISO code, empty when unknown.
	Language string `json:"language,omitempty"`
	// Confidence is in [0, 1].
	Confidence float64 `json:"confidence"`
	// Duration is the spoken length in seconds, 0 when unknown.
	Duration float64 `json:"duration"`
}

// deriveResult maps raw engine output onto the caller-facing result.
// Confidence averages (1 - no-speech probability) over the segments that
// report one; duration is the end timestamp of the last segment.
func deriveResult(out model.Output, languageHint string) Result {
	res := Result{
		Text:       out.Text,
		Language:   out.Language,
		Confidence: DefaultConfidence,
	}

	if res.Language == "" && languageHint != "" && languageHint != "auto" {
		res.Language = languageHint
	}

	var sum float64
	var reported int
	for _, seg := range out.Segments {
		if seg.NoSpeechProb != nil {
			sum += 1 - *seg.NoSpeechProb
			reported++
		}
	}
	if reported > 0 {
		res.Confidence = sum / float64(reported)
	}

	if n := len(out.Segments); n > 0 {
		res.Duration = out.Segments[n-1].End
	}

	return res
}
