// Package media_sdp строит и разбирает SDP описания аудио сессий:
// offer/answer обмен и смена направления потока для удержания вызова.
package media_sdp

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/pion/sdp/v3"
)

// Direction направление медиа потока
type Direction string

const (
	DirectionSendRecv Direction = "sendrecv"
	DirectionSendOnly Direction = "sendonly"
	DirectionRecvOnly Direction = "recvonly"
	DirectionInactive Direction = "inactive"
)

// Config параметры локальной стороны для генерации SDP
type Config struct {
	SessionName string
	Host        string
	Port        int
	PayloadType uint8
	CodecName   string
	ClockRate   int
	Ptime       time.Duration
	Direction   Direction
}

// Validate проверяет конфигурацию и подставляет значения по умолчанию
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("недопустимый порт: %d", c.Port)
	}
	if c.Host == "" {
		c.Host = "127.0.0.1"
	}
	if c.SessionName == "" {
		c.SessionName = "call"
	}
	if c.CodecName == "" {
		c.CodecName = "PCMU"
	}
	if c.ClockRate <= 0 {
		c.ClockRate = 8000
	}
	if c.Ptime <= 0 {
		c.Ptime = 20 * time.Millisecond
	}
	if c.Direction == "" {
		c.Direction = DirectionSendRecv
	}
	return nil
}

// BuildOffer строит SDP offer по локальной конфигурации
func BuildOffer(cfg Config) (*sdp.SessionDescription, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return buildDescription(cfg), nil
}

// BuildAnswer строит SDP answer: локальные параметры накладываются на
// полученный offer, направление зеркалируется
func BuildAnswer(cfg Config, offer *sdp.SessionDescription) (*sdp.SessionDescription, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if offer == nil {
		return nil, fmt.Errorf("offer не задан")
	}
	if _, err := AudioDescription(offer); err != nil {
		return nil, err
	}
	cfg.Direction = mirrorDirection(DirectionOf(offer))
	return buildDescription(cfg), nil
}

func buildDescription(cfg Config) *sdp.SessionDescription {
	now := time.Now().Unix()
	desc := &sdp.SessionDescription{
		Version: 0,
		Origin: sdp.Origin{
			Username:       "-",
			SessionID:      uint64(now),
			SessionVersion: uint64(now),
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: cfg.Host,
		},
		SessionName: sdp.SessionName(cfg.SessionName),
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &sdp.Address{Address: cfg.Host},
		},
		TimeDescriptions: []sdp.TimeDescription{
			{Timing: sdp.Timing{StartTime: 0, StopTime: 0}},
		},
	}

	pt := strconv.Itoa(int(cfg.PayloadType))
	media := &sdp.MediaDescription{
		MediaName: sdp.MediaName{
			Media:   "audio",
			Port:    sdp.RangedPort{Value: cfg.Port},
			Protos:  []string{"RTP", "AVP"},
			Formats: []string{pt},
		},
		Attributes: []sdp.Attribute{
			sdp.NewAttribute("rtpmap", fmt.Sprintf("%s %s/%d", pt, cfg.CodecName, cfg.ClockRate)),
			sdp.NewAttribute("ptime", strconv.Itoa(int(cfg.Ptime.Milliseconds()))),
			sdp.NewPropertyAttribute(string(cfg.Direction)),
		},
	}
	desc.MediaDescriptions = []*sdp.MediaDescription{media}
	return desc
}

// Parse разбирает SDP из сырого блока
func Parse(data []byte) (*sdp.SessionDescription, error) {
	desc := &sdp.SessionDescription{}
	if err := desc.Unmarshal(data); err != nil {
		return nil, fmt.Errorf("разбор SDP: %w", err)
	}
	return desc, nil
}

// Marshal сериализует SDP в сырой блок
func Marshal(desc *sdp.SessionDescription) ([]byte, error) {
	data, err := desc.Marshal()
	if err != nil {
		return nil, fmt.Errorf("сериализация SDP: %w", err)
	}
	return data, nil
}

// AudioDescription находит аудио секцию описания
func AudioDescription(desc *sdp.SessionDescription) (*sdp.MediaDescription, error) {
	for _, m := range desc.MediaDescriptions {
		if m.MediaName.Media == "audio" {
			return m, nil
		}
	}
	return nil, fmt.Errorf("SDP не содержит аудио секции")
}

// RemoteEndpoint возвращает адрес удаленной стороны из описания:
// connection уровня медиа имеет приоритет над сессионным
func RemoteEndpoint(desc *sdp.SessionDescription) (string, error) {
	audio, err := AudioDescription(desc)
	if err != nil {
		return "", err
	}
	conn := audio.ConnectionInformation
	if conn == nil {
		conn = desc.ConnectionInformation
	}
	if conn == nil || conn.Address == nil {
		return "", fmt.Errorf("SDP не содержит адреса подключения")
	}
	return net.JoinHostPort(conn.Address.Address, strconv.Itoa(audio.MediaName.Port.Value)), nil
}

// DirectionOf возвращает направление аудио потока; отсутствие атрибута
// означает sendrecv
func DirectionOf(desc *sdp.SessionDescription) Direction {
	audio, err := AudioDescription(desc)
	if err != nil {
		return DirectionSendRecv
	}
	for _, a := range audio.Attributes {
		switch Direction(a.Key) {
		case DirectionSendRecv, DirectionSendOnly, DirectionRecvOnly, DirectionInactive:
			return Direction(a.Key)
		}
	}
	return DirectionSendRecv
}

// WithDirection возвращает копию описания с новым направлением аудио
// потока; используется для удержания (sendonly) и снятия с удержания
func WithDirection(desc *sdp.SessionDescription, dir Direction) (*sdp.SessionDescription, error) {
	data, err := Marshal(desc)
	if err != nil {
		return nil, err
	}
	clone, err := Parse(data)
	if err != nil {
		return nil, err
	}
	audio, err := AudioDescription(clone)
	if err != nil {
		return nil, err
	}
	kept := audio.Attributes[:0]
	for _, a := range audio.Attributes {
		switch Direction(a.Key) {
		case DirectionSendRecv, DirectionSendOnly, DirectionRecvOnly, DirectionInactive:
			continue
		}
		kept = append(kept, a)
	}
	audio.Attributes = append(kept, sdp.NewPropertyAttribute(string(dir)))
	clone.Origin.SessionVersion++
	return clone, nil
}

// mirrorDirection возвращает направление ответа на указанное направление
// offer
func mirrorDirection(offered Direction) Direction {
	switch offered {
	case DirectionSendOnly:
		return DirectionRecvOnly
	case DirectionRecvOnly:
		return DirectionSendOnly
	case DirectionInactive:
		return DirectionInactive
	default:
		return DirectionSendRecv
	}
}
