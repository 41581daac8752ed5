package sim

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"stagelink/engine/internal/registry"
	"stagelink/engine/internal/state"
)

func axis(negative, positive bool) float64 {
	value := 0.0
	if negative {
		value -= 1
	}
	if positive {
		value += 1
	}
	return value
}

// applyTopDown maps input flags directly to velocity components.
func (d *Driver) applyTopDown(entry *registry.Entry, in Input, dt float64) mgl64.Vec2 {
	velocity := mgl64.Vec2{
		axis(in.Left, in.Right),
		axis(in.Up, in.Down),
	}
	if velocity.Len() > 0 {
		velocity = velocity.Normalize().Mul(d.bcfg.Speed)
	}
	x, y := entry.Visual.Position()
	entry.Visual.SetPosition(x+velocity.X()*dt, y+velocity.Y()*dt)
	return velocity
}

// applyPlatformer keeps horizontal input-mapped velocity, integrates
// gravity into the vertical memory cell, and fires a jump impulse only
// while the body reports ground contact.
func (d *Driver) applyPlatformer(entry *registry.Entry, in Input, velocity mgl64.Vec2, data state.EntityData, dt float64) mgl64.Vec2 {
	grounded := state.Bool(data, "grounded")
	vx := axis(in.Left, in.Right) * d.bcfg.Speed
	vy := velocity.Y() + d.bcfg.Gravity*dt
	if grounded {
		if vy > 0 {
			vy = 0
		}
		if in.Jump {
			vy = -d.bcfg.JumpForce
		}
	}
	x, y := entry.Visual.Position()
	entry.Visual.SetPosition(x+vx*dt, y+vy*dt)
	return mgl64.Vec2{vx, vy}
}

// applyRacing integrates steering into facing, throttle into a bounded
// scalar speed, decays the speed by friction with a zero-snap
// threshold, and projects it onto the facing angle.
func (d *Driver) applyRacing(entry *registry.Entry, in Input, playerID string, dt float64) mgl64.Vec2 {
	angle := entry.Visual.Rotation()
	angle += axis(in.Left, in.Right) * d.bcfg.TurnSpeed * dt

	speed := d.speeds[playerID]
	if in.Up {
		speed += d.bcfg.Acceleration * dt
	}
	if in.Down {
		speed -= d.bcfg.Acceleration * dt
	}
	if speed > d.bcfg.MaxSpeed {
		speed = d.bcfg.MaxSpeed
	}
	if speed < -d.bcfg.MaxSpeed/2 {
		speed = -d.bcfg.MaxSpeed / 2
	}
	speed *= d.bcfg.Friction
	// Snap below the threshold so an idle car reaches exactly zero
	// instead of creeping asymptotically.
	if !in.Up && !in.Down && math.Abs(speed) < d.bcfg.SnapThreshold {
		speed = 0
	}

	velocity := mgl64.Vec2{math.Cos(angle), math.Sin(angle)}.Mul(speed)
	x, y := entry.Visual.Position()
	entry.Visual.SetPosition(x+velocity.X()*dt, y+velocity.Y()*dt)
	entry.Visual.SetRotation(angle)

	d.speeds[playerID] = speed
	d.notifySpeed(playerID, speed)
	return velocity
}
