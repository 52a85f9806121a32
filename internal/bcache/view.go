package bcache

// deviceView binds a Cache to the Device interface so callers that speak
// raw blocks can be pointed at the cache instead of the device.
type deviceView struct {
	c *Cache
}

func (v *deviceView) ReadBlock(blockID int64, dst []byte) error {
	return v.c.Read(blockID, dst)
}

func (v *deviceView) WriteBlock(blockID int64, src []byte) error {
	return v.c.Write(blockID, src)
}

// AsDevice returns a Device backed by the cache.
func (c *Cache) AsDevice() Device {
	return &deviceView{c: c}
}
