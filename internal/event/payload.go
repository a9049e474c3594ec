package event

import "encoding/json"

// Typed payloads for the built-in event kinds. Collectors may marshal
// these directly or hand the pipeline pre-serialized JSON.

// ClickPayload describes a tap gesture
type ClickPayload struct {
	Target        string  `json:"target"`
	TargetID      string  `json:"target_id,omitempty"`
	X             float64 `json:"x"`
	Y             float64 `json:"y"`
	TouchDownTime int64   `json:"touch_down_time"`
	TouchUpTime   int64   `json:"touch_up_time"`
}

// ScrollPayload describes a scroll gesture
type ScrollPayload struct {
	Target    string  `json:"target"`
	TargetID  string  `json:"target_id,omitempty"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	EndX      float64 `json:"end_x"`
	EndY      float64 `json:"end_y"`
	Direction string  `json:"direction"`
}

// LifecyclePayload describes an app or screen lifecycle transition
type LifecyclePayload struct {
	Kind      string `json:"kind"`
	ClassName string `json:"class_name,omitempty"`
}

// LaunchPayload describes a cold or warm launch timing
type LaunchPayload struct {
	ProcessStartUptime int64  `json:"process_start_uptime"`
	FirstFrameUptime   int64  `json:"first_frame_uptime"`
	LaunchedActivity   string `json:"launched_activity,omitempty"`
	HasSavedState      bool   `json:"has_saved_state,omitempty"`
}

// ExceptionPayload describes an unhandled exception or ANR. Crash
// handlers produce it on the dying thread, so it carries everything
// needed for symbolication in one record.
type ExceptionPayload struct {
	Handled    bool              `json:"handled"`
	Exceptions []ExceptionDetail `json:"exceptions"`
	Threads    []ThreadDetail    `json:"threads,omitempty"`
	Foreground bool              `json:"foreground"`
}

// ExceptionDetail is one exception in a cause chain
type ExceptionDetail struct {
	Type    string  `json:"type"`
	Message string  `json:"message"`
	Frames  []Frame `json:"frames"`
}

// ThreadDetail is a snapshot of one thread's stack
type ThreadDetail struct {
	Name   string  `json:"name"`
	Frames []Frame `json:"frames"`
}

// Frame is one stack frame
type Frame struct {
	ClassName  string `json:"class_name,omitempty"`
	MethodName string `json:"method_name,omitempty"`
	FileName   string `json:"file_name,omitempty"`
	LineNum    int    `json:"line_num,omitempty"`
}

// CPUUsagePayload is a periodic CPU sample
type CPUUsagePayload struct {
	NumCores       int     `json:"num_cores"`
	ClockSpeed     int64   `json:"clock_speed"`
	UptimeMS       int64   `json:"uptime_ms"`
	PercentageUsed float64 `json:"percentage_used"`
}

// MemoryUsagePayload is a periodic memory sample
type MemoryUsagePayload struct {
	JavaMaxHeapKB  int64 `json:"java_max_heap_kb,omitempty"`
	JavaFreeHeapKB int64 `json:"java_free_heap_kb,omitempty"`
	RSSKB          int64 `json:"rss_kb"`
	TotalPSSKB     int64 `json:"total_pss_kb,omitempty"`
	UptimeMS       int64 `json:"uptime_ms"`
}

// HTTPPayload describes one instrumented network call
type HTTPPayload struct {
	URL           string `json:"url"`
	Method        string `json:"method"`
	StatusCode    int    `json:"status_code"`
	StartTime     int64  `json:"start_time"`
	EndTime       int64  `json:"end_time"`
	FailureReason string `json:"failure_reason,omitempty"`
	Client        string `json:"client,omitempty"`
}

// CustomPayload is a host-app defined event
type CustomPayload struct {
	Name string `json:"name"`
}

// MarshalPayload serializes a typed payload for use as Event.Payload
func MarshalPayload(v any) (json.RawMessage, error) {
	return json.Marshal(v)
}
