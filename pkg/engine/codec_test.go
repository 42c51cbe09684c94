package engine

import (
	"encoding/json"
	"reflect"
	"testing"
)

func buildTestConfiguration(t *testing.T) *Configuration {
	t.Helper()
	cfg := NewConfiguration()

	multiplier, err := NewIntegerParameter("multiplier", 1, 128, 16)
	if err != nil {
		t.Fatalf("Failed to create parameter: %v", err)
	}
	ratio, err := NewFloatParameter("ratio", 0, 1, 0.25)
	if err != nil {
		t.Fatalf("Failed to create parameter: %v", err)
	}
	scheduler, err := NewSwitchParameter("scheduler", "java.lang.String", []any{"fifo", "lifo"}, 1)
	if err != nil {
		t.Fatalf("Failed to create parameter: %v", err)
	}
	affinity, err := NewPermutationParameter("affinity", "java.lang.Integer", []any{2, 0, 3, 1})
	if err != nil {
		t.Fatalf("Failed to create parameter: %v", err)
	}
	cores, err := NewCompositionParameterWithValues("cores", []float64{0.5, 0.25, 0.25, 0})
	if err != nil {
		t.Fatalf("Failed to create parameter: %v", err)
	}

	for _, p := range []Parameter{multiplier, ratio, scheduler, affinity} {
		if err := cfg.AddParameter(p); err != nil {
			t.Fatalf("Failed to add parameter: %v", err)
		}
	}

	sub := NewConfiguration()
	if err := sub.AddParameter(cores); err != nil {
		t.Fatalf("Failed to add parameter: %v", err)
	}
	if err := sub.AddParameter(NewBooleanSwitch("removeSplitter", true)); err != nil {
		t.Fatalf("Failed to add parameter: %v", err)
	}
	if err := cfg.AddSubconfiguration("blob0", sub); err != nil {
		t.Fatalf("Failed to add subconfiguration: %v", err)
	}
	if err := cfg.PutExtraData("machines", "java.lang.Integer", 4); err != nil {
		t.Fatalf("Failed to add extra data: %v", err)
	}
	if err := cfg.PutExtraData(AllocationGroupPrefix+"0", "java.util.List", []string{"cores"}); err != nil {
		t.Fatalf("Failed to add extra data: %v", err)
	}
	return cfg
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cfg := buildTestConfiguration(t)

	data, err := Encode(cfg)
	if err != nil {
		t.Fatalf("Failed to encode: %v", err)
	}
	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("Failed to decode: %v", err)
	}

	if !reflect.DeepEqual(decoded.ParameterIDs(), cfg.ParameterIDs()) {
		t.Errorf("Expected parameter ids %v, got %v", cfg.ParameterIDs(), decoded.ParameterIDs())
	}
	if !reflect.DeepEqual(decoded.SubconfigurationIDs(), []string{"blob0"}) {
		t.Errorf("Expected subconfiguration blob0, got %v", decoded.SubconfigurationIDs())
	}
	if !reflect.DeepEqual(decoded.ExtraDataKeys(), cfg.ExtraDataKeys()) {
		t.Errorf("Expected extra data keys %v, got %v", cfg.ExtraDataKeys(), decoded.ExtraDataKeys())
	}

	for _, want := range cfg.AllParameters() {
		got, ok := decoded.Lookup(want.Name())
		if !ok {
			t.Errorf("Expected parameter %s after round trip", want.Name())
			continue
		}
		if got.Kind() != want.Kind() {
			t.Errorf("Expected %s to be %s, got %s", want.Name(), want.Kind(), got.Kind())
		}
		if got.ClassTag() != want.ClassTag() {
			t.Errorf("Expected class tag %s, got %s", want.ClassTag(), got.ClassTag())
		}
		if !reflect.DeepEqual(got.Value(), want.Value()) {
			t.Errorf("Expected %s value %v, got %v", want.Name(), want.Value(), got.Value())
		}
	}

	again, err := Encode(decoded)
	if err != nil {
		t.Fatalf("Failed to re-encode: %v", err)
	}
	if string(again) != string(data) {
		t.Errorf("Expected identical re-encoding\nfirst:  %s\nsecond: %s", data, again)
	}
}

func TestEncodeWireRecord(t *testing.T) {
	cfg := NewConfiguration()
	p, _ := NewIntegerParameter("multiplier", 1, 64, 8)
	if err := cfg.AddParameter(p); err != nil {
		t.Fatalf("Failed to add parameter: %v", err)
	}

	data, err := Encode(cfg)
	if err != nil {
		t.Fatalf("Failed to encode: %v", err)
	}

	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("Failed to parse document: %v", err)
	}
	if doc["__module__"] != "configuration" || doc["__class__"] != "Configuration" {
		t.Errorf("Expected configuration tags, got %v/%v", doc["__module__"], doc["__class__"])
	}
	if doc["class"] != ConfigurationClassTag {
		t.Errorf("Expected class %s, got %v", ConfigurationClassTag, doc["class"])
	}

	record := doc["params"].(map[string]any)["multiplier"].(map[string]any)
	want := map[string]any{
		"__module__": "sjparameters",
		"__class__":  "sjIntegerParameter",
		"class":      IntegerClassTag,
		"name":       "multiplier",
		"min":        float64(1),
		"max":        float64(64),
		"value":      float64(8),
	}
	if !reflect.DeepEqual(record, want) {
		t.Errorf("Expected record %v, got %v", want, record)
	}
}

func TestEncodeWithOptionsDoesNotMutate(t *testing.T) {
	cfg := buildTestConfiguration(t)

	data, err := EncodeWithOptions(cfg, EncodeOptions{
		ExtraData: map[string]ExtraData{
			ReportFusionKey: {TypeTag: BooleanUniverseType, Payload: []byte("true")},
		},
	})
	if err != nil {
		t.Fatalf("Failed to encode: %v", err)
	}

	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("Failed to decode: %v", err)
	}
	var report bool
	found, err := decoded.DecodeExtraData(ReportFusionKey, &report)
	if err != nil || !found || !report {
		t.Errorf("Expected reportFusion=true in encoded document, got found=%v value=%v err=%v", found, report, err)
	}
	if _, ok := cfg.ExtraData(ReportFusionKey); ok {
		t.Error("Expected the configuration to stay without reportFusion")
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{
			name: "malformed json",
			doc:  `{"__module__": "configuration"`,
		},
		{
			name: "unknown tag",
			doc: `{"__module__": "configuration", "__class__": "Configuration", "params": {
				"x": {"__module__": "sjparameters", "__class__": "sjMysteryParameter", "name": "x"}}}`,
		},
		{
			name: "missing field",
			doc: `{"__module__": "configuration", "__class__": "Configuration", "params": {
				"x": {"__module__": "sjparameters", "__class__": "sjIntegerParameter", "name": "x", "min": 0, "value": 1}}}`,
		},
		{
			name: "value out of domain",
			doc: `{"__module__": "configuration", "__class__": "Configuration", "params": {
				"x": {"__module__": "sjparameters", "__class__": "sjIntegerParameter", "name": "x", "min": 0, "max": 3, "value": 9}}}`,
		},
		{
			name: "switch index out of universe",
			doc: `{"__module__": "configuration", "__class__": "Configuration", "params": {
				"s": {"__module__": "sjparameters", "__class__": "sjSwitchParameter", "name": "s", "universe": [false, true], "value": 2}}}`,
		},
		{
			name: "half tagged record",
			doc:  `{"__class__": "Configuration"}`,
		},
		{
			name: "root is not a configuration",
			doc:  `{"__module__": "sjparameters", "__class__": "sjIntegerParameter", "name": "x", "min": 0, "max": 3, "value": 1}`,
		},
		{
			name: "bad extra data",
			doc:  `{"__module__": "configuration", "__class__": "Configuration", "extraData": {"k": "v"}}`,
		},
		{
			name: "param is not a record",
			doc:  `{"__module__": "configuration", "__class__": "Configuration", "params": {"x": 3}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.doc))
			if err == nil {
				t.Fatal("Expected error, got nil")
			}
			if !IsDeserialization(err) {
				t.Errorf("Expected deserialization error, got %v", err)
			}
		})
	}
}

func TestDecodeUntaggedObjectsPassThrough(t *testing.T) {
	doc := `{"__module__": "configuration", "__class__": "Configuration",
		"extraData": {"layout": ["java.util.Map", {"rows": 2, "cols": 3}]}}`

	cfg, err := Decode([]byte(doc))
	if err != nil {
		t.Fatalf("Failed to decode: %v", err)
	}
	var layout map[string]int
	found, err := cfg.DecodeExtraData("layout", &layout)
	if err != nil || !found {
		t.Fatalf("Expected layout extra data, got found=%v err=%v", found, err)
	}
	if layout["rows"] != 2 || layout["cols"] != 3 {
		t.Errorf("Expected rows=2 cols=3, got %v", layout)
	}
	ed, _ := cfg.ExtraData("layout")
	if ed.TypeTag != "java.util.Map" {
		t.Errorf("Expected type tag java.util.Map, got %s", ed.TypeTag)
	}
}
