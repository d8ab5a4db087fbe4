package mqtt

// FakePublisher records published events for test assertions.
type FakePublisher struct {
	// States contains all battery states that were published.
	States []StateEvent

	// StatePayloads contains the JSON payloads for battery states.
	StatePayloads [][]byte

	// Alarms contains all alarm transitions that were published.
	Alarms []AlarmEvent

	// AlarmPayloads contains the JSON payloads for alarm transitions.
	AlarmPayloads [][]byte

	// SystemEvents contains all system events that were published.
	SystemEvents []SystemEvent

	// SystemPayloads contains the JSON payloads for system events.
	SystemPayloads [][]byte

	// PublishStateError, if set, will be returned by PublishState.
	PublishStateError error

	// PublishAlarmError, if set, will be returned by PublishAlarm.
	PublishAlarmError error

	// PublishSystemError, if set, will be returned by PublishSystem.
	PublishSystemError error

	// Closed tracks if Close was called.
	Closed bool

	// Connected controls the return value of IsConnected.
	Connected bool
}

// NewFakePublisher creates a FakePublisher for testing.
func NewFakePublisher() *FakePublisher {
	return &FakePublisher{}
}

// PublishState records the battery state.
func (f *FakePublisher) PublishState(event StateEvent) error {
	if f.PublishStateError != nil {
		return f.PublishStateError
	}
	payload, err := FormatStatePayload(event)
	if err != nil {
		return err
	}
	f.States = append(f.States, event)
	f.StatePayloads = append(f.StatePayloads, payload)
	return nil
}

// PublishAlarm records the alarm transition.
func (f *FakePublisher) PublishAlarm(event AlarmEvent) error {
	if f.PublishAlarmError != nil {
		return f.PublishAlarmError
	}
	payload, err := FormatAlarmPayload(event)
	if err != nil {
		return err
	}
	f.Alarms = append(f.Alarms, event)
	f.AlarmPayloads = append(f.AlarmPayloads, payload)
	return nil
}

// PublishSystem records the system event.
func (f *FakePublisher) PublishSystem(event SystemEvent) error {
	if f.PublishSystemError != nil {
		return f.PublishSystemError
	}
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return err
	}
	f.SystemEvents = append(f.SystemEvents, event)
	f.SystemPayloads = append(f.SystemPayloads, payload)
	return nil
}

// Close marks the publisher as closed.
func (f *FakePublisher) Close() error {
	f.Closed = true
	return nil
}

// IsConnected reports whether the fake publisher is "connected".
func (f *FakePublisher) IsConnected() bool {
	return f.Connected
}

// Reset clears recorded events and injected errors.
func (f *FakePublisher) Reset() {
	*f = FakePublisher{}
}
