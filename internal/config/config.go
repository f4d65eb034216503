package config

import (
	"strings"
	"time"

	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v3"
	"github.com/spf13/viper"
)

var DefaultStunServers = []string{
	"stun.l.google.com:19302",
	"stun1.l.google.com:19302",
}

type Config struct {
	Peer    PeerConfig
	RTC     RTCConfig
	Session SessionConfig
}

type RTCConfig struct {
	ICEPortRangeStart uint32
	ICEPortRangeEnd   uint32
	StunServers       []string
}

type SessionConfig struct {
	// NegotiationTimeout bounds how long a peer link may wait for an
	// answer before it is torn down as failed. Zero disables the timer.
	NegotiationTimeout time.Duration
}

type CodecSpec struct {
	Mime     string
	FmtpLine string
}

type PeerConfig struct {
	EnabledCodecs []CodecSpec
}

type RTPHeaderExtensionConfig struct {
	Audio []string
	Video []string
}

type RTCPFeedbackConfig struct {
	Audio []webrtc.RTCPFeedback
	Video []webrtc.RTCPFeedback
}

type WebRTCConfig struct {
	Configuration    webrtc.Configuration
	SettingEngine    webrtc.SettingEngine
	HeaderExtensions RTPHeaderExtensionConfig
	RTCPFeedback     RTCPFeedbackConfig
}

// Load wires REALTIME_-prefixed environment variables into viper and
// reads the optional YAML config file at path.
func Load(path string) error {
	viper.SetEnvPrefix("REALTIME")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if path == "" {
		return nil
	}

	viper.SetConfigFile(path)
	return viper.ReadInConfig()
}

func NewConfig() *Config {
	viper.SetDefault("rtc.ice_port_range_start", 50000)
	viper.SetDefault("rtc.ice_port_range_end", 60000)
	viper.SetDefault("rtc.stun_servers", DefaultStunServers)
	viper.SetDefault("session.negotiation_timeout", 30*time.Second)

	conf := &Config{
		RTC: RTCConfig{
			ICEPortRangeStart: viper.GetUint32("rtc.ice_port_range_start"),
			ICEPortRangeEnd:   viper.GetUint32("rtc.ice_port_range_end"),
			StunServers:       viper.GetStringSlice("rtc.stun_servers"),
		},
		Peer: PeerConfig{
			EnabledCodecs: []CodecSpec{
				{Mime: webrtc.MimeTypeOpus, FmtpLine: "minptime=10;useinbandfec=1"},
				{Mime: webrtc.MimeTypeVP8},
			},
		},
		Session: SessionConfig{
			NegotiationTimeout: viper.GetDuration("session.negotiation_timeout"),
		},
	}

	return conf
}

func NewWebRTCConfig(config *Config) (*WebRTCConfig, error) {
	iceServers := make([]webrtc.ICEServer, 0, len(config.RTC.StunServers))
	for _, server := range config.RTC.StunServers {
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs: []string{"stun:" + server},
		})
	}

	c := webrtc.Configuration{
		SDPSemantics: webrtc.SDPSemanticsUnifiedPlan,
		ICEServers:   iceServers,
	}
	s := webrtc.SettingEngine{}

	networkTypes := make([]webrtc.NetworkType, 0, 4)
	// Use only UDP
	networkTypes = append(networkTypes,
		webrtc.NetworkTypeUDP4, webrtc.NetworkTypeUDP6,
	)
	if err := s.SetEphemeralUDPPortRange(uint16(config.RTC.ICEPortRangeStart), uint16(config.RTC.ICEPortRangeEnd)); err != nil {
		return nil, err
	}
	s.SetNetworkTypes(networkTypes)

	headerExtensions := RTPHeaderExtensionConfig{
		Audio: []string{
			sdp.SDESMidURI,
			sdp.AudioLevelURI,
		},
		Video: []string{
			sdp.SDESMidURI,
			sdp.SDESRTPStreamIDURI,
			sdp.TransportCCURI,
		},
	}

	rtcpFeedback := RTCPFeedbackConfig{
		Video: []webrtc.RTCPFeedback{
			{Type: webrtc.TypeRTCPFBGoogREMB},
			{Type: webrtc.TypeRTCPFBCCM, Parameter: "fir"},
			{Type: webrtc.TypeRTCPFBNACK},
			{Type: webrtc.TypeRTCPFBNACK, Parameter: "pli"},
		},
	}

	return &WebRTCConfig{
		Configuration:    c,
		SettingEngine:    s,
		HeaderExtensions: headerExtensions,
		RTCPFeedback:     rtcpFeedback,
	}, nil
}
