package server

import (
	"image"
	"os"

	"golang.org/x/sys/unix"
	"lagoon.dev/loon/shm"
	"lagoon.dev/loon/state"
	"lagoon.dev/loon/wire"
)

const (
	shmReqCreatePool = 0

	shmEvtFormat = 0

	shmErrInvalidFormat = 0
	shmErrInvalidStride = 1
	shmErrInvalidFd     = 2
)

type shmObject struct {
	object
	client *Client
}

func bindShm(c *Client, version, id uint32) error {
	obj := &shmObject{client: c}
	obj.SetID(id)
	c.store.Add(obj)
	for _, format := range []uint32{shm.FormatARGB8888, shm.FormatXRGB8888} {
		mb := wire.NewMessage(obj, shmEvtFormat)
		mb.Method = "format"
		mb.WriteUint(format)
		c.send(mb)
	}
	return nil
}

func (sh *shmObject) Interface() string { return "wl_shm" }

func (sh *shmObject) Dispatch(msg *wire.MessageBuffer) error {
	switch msg.Op() {
	case shmReqCreatePool:
		id := msg.ReadUint()
		file := msg.ReadFile()
		size := msg.ReadInt()
		if err := msg.Err(); err != nil {
			return err
		}
		if size <= 0 {
			file.Close()
			return protoErr(sh, shmErrInvalidStride, "pool size %v is not positive", size)
		}

		// The compositor only ever reads client pixels.
		mem, err := shm.MapShared(file, int(size), unix.PROT_READ)
		if err != nil {
			file.Close()
			return protoErr(sh, shmErrInvalidFd, "cannot map pool: %v", err)
		}
		sh.client.pools = append(sh.client.pools, mem)

		pool := &poolObject{client: sh.client, file: file, mem: mem}
		pool.SetID(id)
		sh.client.store.Add(pool)
		return nil

	default:
		return invalidMethod(sh, msg.Op())
	}
}

const (
	poolReqCreateBuffer = 0
	poolReqDestroy      = 1
	poolReqResize       = 2
)

// poolObject is wl_shm_pool. The mapping outlives the pool object
// because buffers keep views into it; mappings are only released when
// the client goes away.
type poolObject struct {
	object
	client *Client
	file   *os.File
	mem    shm.Mmap
}

func (p *poolObject) Interface() string { return "wl_shm_pool" }

func (p *poolObject) Dispatch(msg *wire.MessageBuffer) error {
	c := p.client
	switch msg.Op() {
	case poolReqCreateBuffer:
		id := msg.ReadUint()
		offset := msg.ReadInt()
		w, h := msg.ReadInt(), msg.ReadInt()
		stride := msg.ReadInt()
		format := msg.ReadUint()
		if err := msg.Err(); err != nil {
			return err
		}

		if w <= 0 || h <= 0 || stride != 4*w {
			return protoErr(p, shmErrInvalidStride, "bad buffer geometry %vx%v stride %v", w, h, stride)
		}
		end := int64(offset) + int64(stride)*int64(h)
		if offset < 0 || end > int64(len(p.mem)) {
			return protoErr(p, shmErrInvalidStride, "buffer range [%v, %v) outside pool of %v bytes", offset, end, len(p.mem))
		}

		size := image.Pt(int(w), int(h))
		img, err := shm.Image(p.mem[offset:end], size, format)
		if err != nil {
			return protoErr(p, shmErrInvalidFormat, "%v", err)
		}

		bid, err := c.server.store.AddBuffer(c.id, img, size)
		if err != nil {
			return wrap(p, err)
		}
		buf := &bufferObject{client: c, bid: bid}
		buf.SetID(id)
		c.store.Add(buf)
		if b, ok := c.server.store.Buffer(bid); ok {
			b.OnRelease = buf.release
		}
		return nil

	case poolReqDestroy:
		c.destroyObject(p)
		return nil

	case poolReqResize:
		size := msg.ReadInt()
		if err := msg.Err(); err != nil {
			return err
		}
		if int64(size) < int64(len(p.mem)) {
			return protoErr(p, shmErrInvalidFd, "pools cannot shrink")
		}
		mem, err := shm.MapShared(p.file, int(size), unix.PROT_READ)
		if err != nil {
			return protoErr(p, shmErrInvalidFd, "cannot remap pool: %v", err)
		}
		// The old mapping stays alive: existing buffers still view it.
		c.pools = append(c.pools, mem)
		p.mem = mem
		return nil

	default:
		return invalidMethod(p, msg.Op())
	}
}

func (p *poolObject) Delete() {
	p.file.Close()
}

const (
	bufferReqDestroy = 0

	bufferEvtRelease = 0
)

type bufferObject struct {
	object
	client *Client
	bid    state.BufferID
}

func (b *bufferObject) Interface() string { return "wl_buffer" }

func (b *bufferObject) Dispatch(msg *wire.MessageBuffer) error {
	switch msg.Op() {
	case bufferReqDestroy:
		if err := b.client.server.store.DestroyBuffer(b.client.id, b.bid); err != nil {
			return wrap(b, err)
		}
		b.client.destroyObject(b)
		return nil

	default:
		return invalidMethod(b, msg.Op())
	}
}

// release tells the client the compositor is done reading the buffer.
func (b *bufferObject) release() {
	mb := wire.NewMessage(b, bufferEvtRelease)
	mb.Method = "release"
	b.client.send(mb)
}
