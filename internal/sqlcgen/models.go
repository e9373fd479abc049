package sqlcgen

type Place struct {
	Gid      string
	Name     string
	State    *string
	Lat      *float64
	Lon      *float64
	Envelope *string
}
