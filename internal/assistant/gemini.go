package assistant

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hearthlabs/homehub/internal/config"
)

const (
	handshakeTimeout = 10 * time.Second
	setupTimeout     = 10 * time.Second
	writeTimeout     = 5 * time.Second
)

// GeminiDialer opens Gemini Live BidiGenerateContent sessions.
type GeminiDialer struct {
	endpoint    string
	model       string
	voice       string
	instruction string
	dialer      *websocket.Dialer
}

// NewGeminiDialer returns a dialer for the configured model and voice.
func NewGeminiDialer(cfg config.Gemini) *GeminiDialer {
	return &GeminiDialer{
		endpoint:    cfg.Endpoint,
		model:       cfg.Model,
		voice:       cfg.Voice,
		instruction: cfg.SystemInstruction,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		},
	}
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type setupMessage struct {
	Setup struct {
		Model            string `json:"model"`
		GenerationConfig struct {
			ResponseModalities []string `json:"responseModalities"`
			SpeechConfig       struct {
				VoiceConfig struct {
					PrebuiltVoiceConfig struct {
						VoiceName string `json:"voiceName"`
					} `json:"prebuiltVoiceConfig"`
				} `json:"voiceConfig"`
			} `json:"speechConfig"`
		} `json:"generationConfig"`
		SystemInstruction *struct {
			Parts []part `json:"parts"`
		} `json:"systemInstruction,omitempty"`
	} `json:"setup"`
}

type realtimeInput struct {
	RealtimeInput struct {
		MediaChunks []inlineData `json:"mediaChunks"`
	} `json:"realtimeInput"`
}

type serverMessage struct {
	SetupComplete *struct{} `json:"setupComplete,omitempty"`
	ServerContent *struct {
		ModelTurn *struct {
			Parts []part `json:"parts"`
		} `json:"modelTurn,omitempty"`
		OutputTranscription *struct {
			Text string `json:"text"`
		} `json:"outputTranscription,omitempty"`
		TurnComplete bool `json:"turnComplete,omitempty"`
		Interrupted  bool `json:"interrupted,omitempty"`
	} `json:"serverContent,omitempty"`
	GoAway *struct {
		TimeLeft string `json:"timeLeft"`
	} `json:"goAway,omitempty"`
}

func (d *GeminiDialer) setup() setupMessage {
	var m setupMessage
	m.Setup.Model = d.model
	m.Setup.GenerationConfig.ResponseModalities = []string{"AUDIO"}
	m.Setup.GenerationConfig.SpeechConfig.VoiceConfig.PrebuiltVoiceConfig.VoiceName = d.voice
	if d.instruction != "" {
		m.Setup.SystemInstruction = &struct {
			Parts []part `json:"parts"`
		}{Parts: []part{{Text: d.instruction}}}
	}
	return m
}

// Dial connects, sends the setup message and waits for setupComplete.
func (d *GeminiDialer) Dial(ctx context.Context, apiKey string) (Session, error) {
	u, err := url.Parse(d.endpoint)
	if err != nil {
		return nil, newError(KindConnection, fmt.Errorf("parse endpoint: %w", err))
	}
	q := u.Query()
	q.Set("key", apiKey)
	u.RawQuery = q.Encode()

	conn, resp, err := d.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			// the status code is what marks a rejected key
			return nil, connectionError(fmt.Errorf("websocket dial: HTTP %d: %w", resp.StatusCode, err))
		}
		return nil, connectionError(fmt.Errorf("websocket dial: %w", err))
	}

	s := &geminiSession{conn: conn}
	if err := s.writeJSON(d.setup()); err != nil {
		conn.Close()
		return nil, connectionError(fmt.Errorf("send setup: %w", err))
	}

	deadline := time.Now().Add(setupTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	_ = conn.SetReadDeadline(deadline)
	for {
		msg, err := s.read()
		if err != nil {
			conn.Close()
			return nil, connectionError(fmt.Errorf("wait for setup: %w", err))
		}
		if msg.SetupComplete != nil {
			break
		}
	}
	_ = conn.SetReadDeadline(time.Time{})
	return s, nil
}

type geminiSession struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	once    sync.Once
}

func (s *geminiSession) writeJSON(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteJSON(v)
}

// read returns the next server message. A close frame becomes
// *ClosedError carrying its reason text.
func (s *geminiSession) read() (*serverMessage, error) {
	_, data, err := s.conn.ReadMessage()
	if err != nil {
		var ce *websocket.CloseError
		if errors.As(err, &ce) {
			return nil, &ClosedError{Reason: ce.Text}
		}
		return nil, err
	}
	var msg serverMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("decode server message: %w", err)
	}
	return &msg, nil
}

// SendAudio sends one PCM16 frame as a realtime media chunk.
func (s *geminiSession) SendAudio(ctx context.Context, pcm []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var m realtimeInput
	m.RealtimeInput.MediaChunks = []inlineData{{
		MimeType: InputMimeType,
		Data:     base64.StdEncoding.EncodeToString(pcm),
	}}
	return s.writeJSON(m)
}

// Recv skips messages without content.
func (s *geminiSession) Recv() (*Message, error) {
	for {
		raw, err := s.read()
		if err != nil {
			return nil, err
		}
		if raw.GoAway != nil {
			continue
		}
		sc := raw.ServerContent
		if sc == nil {
			continue
		}
		var out Message
		var text strings.Builder
		if sc.ModelTurn != nil {
			for _, p := range sc.ModelTurn.Parts {
				if p.InlineData != nil && strings.HasPrefix(p.InlineData.MimeType, "audio/") {
					pcm, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
					if err != nil {
						return nil, fmt.Errorf("decode audio part: %w", err)
					}
					out.Audio = append(out.Audio, pcm)
				}
				text.WriteString(p.Text)
			}
		}
		if sc.OutputTranscription != nil {
			text.WriteString(sc.OutputTranscription.Text)
		}
		out.Text = text.String()
		out.TurnComplete = sc.TurnComplete
		out.Interrupted = sc.Interrupted
		if len(out.Audio) == 0 && out.Text == "" && !out.TurnComplete && !out.Interrupted {
			continue
		}
		return &out, nil
	}
}

func (s *geminiSession) Close() error {
	var err error
	s.once.Do(func() {
		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		s.writeMu.Unlock()
		err = s.conn.Close()
	})
	return err
}
