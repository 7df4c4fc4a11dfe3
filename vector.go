// SPDX-License-Identifier: GPL-3.0
// Copyright 2026 SVI Lab

package mcis

import (
	"fmt"
	"math"
)

// Vector3 is a three-component vector of doubles, indexed as X/Y/Z or
// roll/pitch/yaw depending on context.
type Vector3 [3]float64

// Vec returns a new Vector3 from its three components.
func Vec(a, b, c float64) Vector3 {
	return Vector3{a, b, c}
}

// Add returns the componentwise sum v + w.
func (v Vector3) Add(w Vector3) Vector3 {
	return Vector3{v[0] + w[0], v[1] + w[1], v[2] + w[2]}
}

// Sub returns the componentwise difference v - w.
func (v Vector3) Sub(w Vector3) Vector3 {
	return Vector3{v[0] - w[0], v[1] - w[1], v[2] - w[2]}
}

// Scale returns v multiplied by the scalar s.
func (v Vector3) Scale(s float64) Vector3 {
	return Vector3{v[0] * s, v[1] * s, v[2] * s}
}

// Div returns v divided by the scalar s.
func (v Vector3) Div(s float64) Vector3 {
	return Vector3{v[0] / s, v[1] / s, v[2] / s}
}

// ScaleEach scales each component by its own gain.
func (v Vector3) ScaleEach(a, b, c float64) Vector3 {
	return Vector3{v[0] * a, v[1] * b, v[2] * c}
}

// Dot returns the dot product of v and w.
func Dot(v, w Vector3) float64 {
	return v[0]*w[0] + v[1]*w[1] + v[2]*w[2]
}

// Cross returns the cross product v × w.
func Cross(v, w Vector3) Vector3 {
	return Vector3{
		v[1]*w[2] - v[2]*w[1],
		v[2]*w[0] - v[0]*w[2],
		v[0]*w[1] - v[1]*w[0],
	}
}

func (v Vector3) String() string {
	return fmt.Sprintf("[ %10.6f  %10.6f  %10.6f ]", v[0], v[1], v[2])
}

// Matrix3 is a 3x3 row-major matrix of doubles:
//
//	| 0 1 2 |
//	| 3 4 5 |
//	| 6 7 8 |
type Matrix3 [9]float64

// Identity returns the 3x3 identity matrix.
func Identity() Matrix3 {
	return Matrix3{
		1, 0, 0,
		0, 1, 0,
		0, 0, 1,
	}
}

// At returns the element at (row, column).
func (m Matrix3) At(row, col int) float64 {
	return m[row*3+col]
}

// MulVec right-multiplies m with the column vector v.
func (m Matrix3) MulVec(v Vector3) Vector3 {
	var out Vector3
	for row := 0; row < 3; row++ {
		var r float64
		for col := 0; col < 3; col++ {
			r += m[row*3+col] * v[col]
		}
		out[row] = r
	}
	return out
}

// Transpose transposes m in place.
func (m *Matrix3) Transpose() {
	m[1], m[3] = m[3], m[1]
	m[2], m[6] = m[6], m[2]
	m[5], m[7] = m[7], m[5]
}

// EulerToDCMInvZYX fills m with the inverse Direction Cosine Matrix for a
// ZYX rotation through the Euler angles (phi, theta, psi).
//
// DCMs are orthogonal, so the inverse is the transpose, and the matrix is
// generated directly in transposed form rather than built and flipped.
// Right-multiplying a body-frame vector by this matrix expresses it in
// pseudo-inertial Earth-fixed axes, which is the frame the motion base
// commands live in.
func (m *Matrix3) EulerToDCMInvZYX(euler Vector3) {
	sPhi, cPhi := math.Sincos(euler[0])
	sTheta, cTheta := math.Sincos(euler[1])
	sPsi, cPsi := math.Sincos(euler[2])

	m[0] = cTheta * cPsi
	m[1] = sPhi*sTheta*cPsi - cPhi*sPsi
	m[2] = cPhi*sTheta*cPsi + sPhi*sPsi

	m[3] = cTheta * sPsi
	m[4] = sPhi*sTheta*sPsi + cPhi*cPsi
	m[5] = cPhi*sTheta*sPsi - sPhi*cPsi

	m[6] = -sTheta
	m[7] = sPhi * cTheta
	m[8] = cPhi * cTheta
}

// PqrToEulerRates fills m with the transformation from body angular
// velocities to Euler angle rates at the given attitude. Singular at
// theta = ±pi/2.
func (m *Matrix3) PqrToEulerRates(euler Vector3) {
	sPhi, cPhi := math.Sincos(euler[0])
	tanTheta := math.Tan(euler[1])
	secTheta := 1 / math.Cos(euler[1])

	m[0] = 1
	m[1] = sPhi * tanTheta
	m[2] = cPhi * tanTheta

	m[3] = 0
	m[4] = cPhi
	m[5] = -sPhi

	m[6] = 0
	m[7] = sPhi * secTheta
	m[8] = cPhi * secTheta
}

func (m Matrix3) String() string {
	var s string
	for row := 0; row < 3; row++ {
		s += fmt.Sprintf("|  %g  %g  %g  |\n",
			m[row*3], m[row*3+1], m[row*3+2])
	}
	return s
}

// BodyToInertial rotates v from body axes to pseudo-inertial axes using the
// inverse ZYX DCM at the given Euler angles.
func BodyToInertial(v Vector3, euler Vector3) Vector3 {
	var dcm Matrix3
	dcm.EulerToDCMInvZYX(euler)
	return dcm.MulVec(v)
}
