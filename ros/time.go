package ros

const secondInNanosecond = 1000000000

//Time is a ROS time stamp {sec,nsec} since the epoch
type Time struct {
	Sec  uint32
	NSec uint32
}

//NewTime creates a normalized Time object of given integers {sec,nsec}
func NewTime(sec uint32, nsec uint32) Time {
	var t Time
	t.FromNSec(uint64(sec)*secondInNanosecond + uint64(nsec))
	return t
}

//ToSec returns the time stamp as floating point seconds
func (t Time) ToSec() float64 {
	return float64(t.Sec) + float64(t.NSec)*1e-9
}

func (t Time) ToNSec() uint64 {
	return uint64(t.Sec)*secondInNanosecond + uint64(t.NSec)
}

func (t *Time) FromSec(sec float64) {
	t.FromNSec(uint64(sec*1e9 + 0.5))
}

func (t *Time) FromNSec(nsec uint64) {
	t.Sec = uint32(nsec / secondInNanosecond)
	t.NSec = uint32(nsec % secondInNanosecond)
}
