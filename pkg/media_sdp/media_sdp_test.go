package media_sdp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		SessionName: "test-call",
		Host:        "192.168.1.10",
		Port:        20000,
		PayloadType: 0,
		CodecName:   "PCMU",
		ClockRate:   8000,
		Ptime:       20 * time.Millisecond,
	}
}

// TestBuildOfferRoundTrip проверяет генерацию offer и его обратный разбор
func TestBuildOfferRoundTrip(t *testing.T) {
	offer, err := BuildOffer(testConfig())
	require.NoError(t, err)

	data, err := Marshal(offer)
	require.NoError(t, err)

	parsed, err := Parse(data)
	require.NoError(t, err)

	audio, err := AudioDescription(parsed)
	require.NoError(t, err)
	assert.Equal(t, 20000, audio.MediaName.Port.Value)
	assert.Equal(t, []string{"0"}, audio.MediaName.Formats)
	assert.Equal(t, DirectionSendRecv, DirectionOf(parsed))

	endpoint, err := RemoteEndpoint(parsed)
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.10:20000", endpoint)
}

// TestBuildAnswerMirrorsDirection проверяет зеркалирование направления
// в answer
func TestBuildAnswerMirrorsDirection(t *testing.T) {
	offer, err := BuildOffer(testConfig())
	require.NoError(t, err)

	held, err := WithDirection(offer, DirectionSendOnly)
	require.NoError(t, err)

	answerCfg := testConfig()
	answerCfg.Host = "192.168.1.20"
	answerCfg.Port = 30000
	answer, err := BuildAnswer(answerCfg, held)
	require.NoError(t, err)
	assert.Equal(t, DirectionRecvOnly, DirectionOf(answer),
		"sendonly offer gets recvonly answer")

	plain, err := BuildAnswer(answerCfg, offer)
	require.NoError(t, err)
	assert.Equal(t, DirectionSendRecv, DirectionOf(plain))
}

// TestBuildAnswerRejectsNonAudio проверяет отказ для offer без аудио
func TestBuildAnswerRejectsNonAudio(t *testing.T) {
	offer, err := BuildOffer(testConfig())
	require.NoError(t, err)
	offer.MediaDescriptions = nil

	_, err = BuildAnswer(testConfig(), offer)
	assert.Error(t, err)
}

// TestWithDirection проверяет смену направления без потери остальных
// атрибутов и без мутации исходного описания
func TestWithDirection(t *testing.T) {
	offer, err := BuildOffer(testConfig())
	require.NoError(t, err)

	held, err := WithDirection(offer, DirectionSendOnly)
	require.NoError(t, err)
	assert.Equal(t, DirectionSendOnly, DirectionOf(held))
	assert.Equal(t, DirectionSendRecv, DirectionOf(offer), "original untouched")

	audio, err := AudioDescription(held)
	require.NoError(t, err)
	var hasRtpmap bool
	for _, a := range audio.Attributes {
		if a.Key == "rtpmap" {
			hasRtpmap = true
		}
	}
	assert.True(t, hasRtpmap, "codec attributes survive direction change")
	assert.Greater(t, held.Origin.SessionVersion, offer.Origin.SessionVersion,
		"renegotiated description bumps version")
}

// TestConfigValidate проверяет значения по умолчанию и отказ для
// недопустимого порта
func TestConfigValidate(t *testing.T) {
	cfg := Config{Port: 10000}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "127.0.0.1", cfg.Host)
	assert.Equal(t, "PCMU", cfg.CodecName)
	assert.Equal(t, 8000, cfg.ClockRate)
	assert.Equal(t, DirectionSendRecv, cfg.Direction)

	bad := Config{Port: -1}
	assert.Error(t, bad.Validate())

	bad = Config{Port: 100000}
	assert.Error(t, bad.Validate())
}
