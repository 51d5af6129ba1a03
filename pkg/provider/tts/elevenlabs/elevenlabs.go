// Package elevenlabs provides a tts.Provider backed by the ElevenLabs
// streaming WebSocket API.
//
// Each line is sent over a fresh stream-input connection, the PCM audio that
// comes back is collected and written as a WAV clip under the output
// directory. The clip's path is returned as the result's AudioPath.
//
// The NPC's voice reference is used as the ElevenLabs voice id; emotion
// intensity and pace are mapped onto the stream's voice settings.
package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/parley/pkg/provider/tts"
)

var _ tts.Provider = (*Provider)(nil)

const (
	defaultBaseURL   = "wss://api.elevenlabs.io"
	defaultModel     = "eleven_flash_v2_5"
	defaultOutputFmt = "pcm_16000"

	streamPathFmt = "/v1/text-to-speech/%s/stream-input?model_id=%s&output_format=%s"

	// maxMessageBytes bounds a single audio message from the server.
	maxMessageBytes = 4 << 20

	defaultIntensity = 0.5
	similarityBoost  = 0.75
)

// Option is a functional option for configuring the ElevenLabs Provider.
type Option func(*Provider)

// WithModel sets the ElevenLabs model ID (e.g., "eleven_flash_v2_5").
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithOutputFormat sets the PCM output format, e.g. "pcm_16000" or
// "pcm_24000". Only raw PCM formats are supported.
func WithOutputFormat(format string) Option {
	return func(p *Provider) { p.outputFormat = format }
}

// WithBaseURL overrides the WebSocket API origin.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = strings.TrimRight(url, "/") }
}

// WithOutputDir sets where rendered clips are written. Defaults to a
// parley-elevenlabs directory under os.TempDir.
func WithOutputDir(dir string) Option {
	return func(p *Provider) { p.outputDir = dir }
}

// WithDefaultVoice sets the voice id used when a voice has no reference.
func WithDefaultVoice(id string) Option {
	return func(p *Provider) { p.defaultVoice = id }
}

// Provider implements tts.Provider backed by the ElevenLabs streaming API.
type Provider struct {
	apiKey       string
	model        string
	outputFormat string
	sampleRate   int
	baseURL      string
	outputDir    string
	defaultVoice string
	seq          atomic.Uint64
}

// New creates a new ElevenLabs Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:       apiKey,
		model:        defaultModel,
		outputFormat: defaultOutputFmt,
		baseURL:      defaultBaseURL,
		outputDir:    filepath.Join(os.TempDir(), "parley-elevenlabs"),
	}
	for _, o := range opts {
		o(p)
	}

	rate, err := pcmSampleRate(p.outputFormat)
	if err != nil {
		return nil, err
	}
	p.sampleRate = rate
	if err := os.MkdirAll(p.outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("elevenlabs: create output dir: %w", err)
	}
	return p, nil
}

// ---- WebSocket message types ----

// textMessage is the JSON payload sent to ElevenLabs for each text fragment.
type textMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
	XiAPIKey      string         `json:"xi_api_key,omitempty"`
}

// voiceSettings mirrors the ElevenLabs voice_settings object.
type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style"`
	Speed           float64 `json:"speed"`
}

// audioResponse is the JSON message received from ElevenLabs over the WebSocket.
type audioResponse struct {
	Audio   string `json:"audio"` // base64-encoded PCM
	IsFinal bool   `json:"isFinal"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Settings maps a voice onto ElevenLabs voice settings. Higher intensity
// lowers stability and raises style exaggeration; neutral voices get no
// style. Speed follows pace within the API's [0.7, 1.2] range.
func Settings(voice tts.Voice) (stability, style, speed float64) {
	intensity := voice.Intensity
	if intensity <= 0 {
		intensity = defaultIntensity
	}
	intensity = min(intensity, 1.0)

	stability = min(max(0.8-0.6*intensity, 0.2), 0.8)
	emotion := strings.ToLower(strings.TrimSpace(voice.Emotion))
	if emotion != "" && emotion != "neutral" {
		style = intensity
	}
	speed = voice.Pace
	if speed <= 0 {
		speed = 1.0
	}
	speed = min(max(speed, 0.7), 1.2)
	return stability, style, speed
}

// Synthesize implements tts.Provider. It streams text to ElevenLabs, waits
// for the final audio message and writes the clip as a WAV file.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.Voice) (tts.Result, error) {
	if strings.TrimSpace(text) == "" {
		return tts.Result{}, errors.New("elevenlabs: text must not be empty")
	}
	voiceID := voice.Reference
	if voiceID == "" {
		voiceID = p.defaultVoice
	}
	if voiceID == "" {
		return tts.Result{}, errors.New("elevenlabs: voice reference must name a voice id")
	}
	start := time.Now()

	conn, _, err := websocket.Dial(ctx, p.streamURL(voiceID), &websocket.DialOptions{
		HTTPHeader: http.Header{"xi-api-key": []string{p.apiKey}},
	})
	if err != nil {
		return tts.Result{}, fmt.Errorf("elevenlabs: dial: %w", err)
	}
	defer conn.CloseNow()
	conn.SetReadLimit(maxMessageBytes)

	stability, style, speed := Settings(voice)
	msgs := []textMessage{
		// ElevenLabs requires a single space as the first text value.
		{
			Text: " ",
			VoiceSettings: &voiceSettings{
				Stability:       stability,
				SimilarityBoost: similarityBoost,
				Style:           style,
				Speed:           speed,
			},
			XiAPIKey: p.apiKey,
		},
		{Text: strings.TrimSpace(text) + " "},
		// An empty text flushes the buffer and ends the stream.
		{Text: ""},
	}
	for _, m := range msgs {
		data, err := json.Marshal(m)
		if err != nil {
			return tts.Result{}, fmt.Errorf("elevenlabs: marshal message: %w", err)
		}
		if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
			return tts.Result{}, fmt.Errorf("elevenlabs: send: %w", err)
		}
	}

	pcm, err := readAudio(ctx, conn)
	if err != nil {
		return tts.Result{}, err
	}
	conn.Close(websocket.StatusNormalClosure, "done")

	path := filepath.Join(p.outputDir, fmt.Sprintf("el-%d-%d.wav", start.UnixNano(), p.seq.Add(1)))
	if err := writeWAV(path, pcm, p.sampleRate); err != nil {
		return tts.Result{}, err
	}

	return tts.Result{
		AudioPath:      path,
		Duration:       pcmDuration(len(pcm), p.sampleRate),
		Model:          p.model,
		GenerationTime: time.Since(start),
	}, nil
}

func (p *Provider) streamURL(voiceID string) string {
	return p.baseURL + fmt.Sprintf(streamPathFmt, voiceID, p.model, p.outputFormat)
}

// readAudio collects decoded PCM until the final message or a normal close.
func readAudio(ctx context.Context, conn *websocket.Conn) ([]byte, error) {
	var pcm []byte
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure && len(pcm) > 0 {
				return pcm, nil
			}
			return nil, fmt.Errorf("elevenlabs: read: %w", err)
		}
		var resp audioResponse
		if err := json.Unmarshal(msg, &resp); err != nil {
			continue
		}
		if resp.Error != "" {
			return nil, fmt.Errorf("elevenlabs: server error: %s: %s", resp.Error, resp.Message)
		}
		if resp.Audio != "" {
			chunk, err := base64.StdEncoding.DecodeString(resp.Audio)
			if err != nil {
				return nil, fmt.Errorf("elevenlabs: decode audio: %w", err)
			}
			pcm = append(pcm, chunk...)
		}
		if resp.IsFinal {
			if len(pcm) == 0 {
				return nil, errors.New("elevenlabs: stream ended without audio")
			}
			return pcm, nil
		}
	}
}

// pcmSampleRate parses the sample rate from a "pcm_<rate>" format.
func pcmSampleRate(format string) (int, error) {
	rate, ok := strings.CutPrefix(format, "pcm_")
	if !ok {
		return 0, fmt.Errorf("elevenlabs: output format %q is not raw PCM", format)
	}
	n, err := strconv.Atoi(rate)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("elevenlabs: output format %q has no valid sample rate", format)
	}
	return n, nil
}

// pcmDuration returns the playback length of 16-bit mono PCM.
func pcmDuration(n, sampleRate int) time.Duration {
	return time.Duration(n/2) * time.Second / time.Duration(sampleRate)
}

// writeWAV writes 16-bit mono PCM with a canonical 44-byte RIFF header.
func writeWAV(path string, pcm []byte, sampleRate int) error {
	const (
		channels      = 1
		bitsPerSample = 16
	)
	byteRate := sampleRate * channels * bitsPerSample / 8

	hdr := make([]byte, 44)
	copy(hdr[0:], "RIFF")
	binary.LittleEndian.PutUint32(hdr[4:], uint32(36+len(pcm)))
	copy(hdr[8:], "WAVE")
	copy(hdr[12:], "fmt ")
	binary.LittleEndian.PutUint32(hdr[16:], 16)
	binary.LittleEndian.PutUint16(hdr[20:], 1) // PCM
	binary.LittleEndian.PutUint16(hdr[22:], channels)
	binary.LittleEndian.PutUint32(hdr[24:], uint32(sampleRate))
	binary.LittleEndian.PutUint32(hdr[28:], uint32(byteRate))
	binary.LittleEndian.PutUint16(hdr[32:], channels*bitsPerSample/8)
	binary.LittleEndian.PutUint16(hdr[34:], bitsPerSample)
	copy(hdr[36:], "data")
	binary.LittleEndian.PutUint32(hdr[40:], uint32(len(pcm)))

	if err := os.WriteFile(path, append(hdr, pcm...), 0o644); err != nil {
		return fmt.Errorf("elevenlabs: write clip: %w", err)
	}
	return nil
}
