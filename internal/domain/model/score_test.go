package model_test

import (
	"errors"
	"testing"

	model "github.com/okian/pagespeed/internal/domain/model"
	"github.com/smartystreets/goconvey/convey"
)

func TestParseDevice(t *testing.T) {
	convey.Convey("Given device strings", t, func() {
		convey.Convey("When parsing supported values in mixed case", func() {
			m, errM := model.ParseDevice(" Mobile ")
			d, errD := model.ParseDevice("DESKTOP")

			convey.Convey("Then they should resolve to the profiles", func() {
				convey.So(errM, convey.ShouldBeNil)
				convey.So(errD, convey.ShouldBeNil)
				convey.So(m, convey.ShouldEqual, model.DeviceMobile)
				convey.So(d, convey.ShouldEqual, model.DeviceDesktop)
			})
		})

		convey.Convey("When parsing an unknown value", func() {
			_, err := model.ParseDevice("tablet")

			convey.Convey("Then it should return ErrUnknownDevice", func() {
				convey.So(errors.Is(err, model.ErrUnknownDevice), convey.ShouldBeTrue)
			})
		})
	})
}

func TestOrderDevices(t *testing.T) {
	convey.Convey("Given a requested device set", t, func() {
		convey.Convey("When it is empty", func() {
			got := model.OrderDevices(nil)

			convey.Convey("Then all devices are returned mobile first", func() {
				convey.So(got, convey.ShouldResemble, []model.Device{model.DeviceMobile, model.DeviceDesktop})
			})
		})

		convey.Convey("When it is reversed with duplicates", func() {
			got := model.OrderDevices([]model.Device{model.DeviceDesktop, model.DeviceMobile, model.DeviceDesktop})

			convey.Convey("Then the fixed order is restored and duplicates collapse", func() {
				convey.So(got, convey.ShouldResemble, []model.Device{model.DeviceMobile, model.DeviceDesktop})
			})
		})

		convey.Convey("When only desktop is requested", func() {
			got := model.OrderDevices([]model.Device{model.DeviceDesktop})

			convey.Convey("Then only desktop is returned", func() {
				convey.So(got, convey.ShouldResemble, []model.Device{model.DeviceDesktop})
			})
		})
	})
}
