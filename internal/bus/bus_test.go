package bus

import "testing"

func TestMatch(t *testing.T) {
	cases := []struct {
		filter, topic string
		want          bool
	}{
		{"#", "FRONTDOOR", true},
		{"#", "FRONTDOOR/pushopen", true},
		{"#", "$SYS/broker/uptime", false},
		{"FRONTDOOR", "FRONTDOOR", true},
		{"FRONTDOOR", "BACKDOOR", false},
		{"readers/+", "readers/FRONTDOOR", true},
		{"readers/+", "readers/FRONTDOOR/x", false},
		{"readers/#", "readers/FRONTDOOR/x", true},
		// MQTT 3.1.1 section 4.7.1.2: "sport/#" also matches "sport".
		{"readers/#", "readers", true},
		{"+/uptime", "$SYS/uptime", false},
		{"+", "$SYS", false},
		{"$SYS/#", "$SYS/broker/uptime", true},
		{"+/uptime", "broker/uptime", true},
		{"a/b", "a", false},
	}
	for _, c := range cases {
		if got := Match(c.filter, c.topic); got != c.want {
			t.Errorf("Match(%q, %q) = %v, want %v", c.filter, c.topic, got, c.want)
		}
	}
}
